package lifecycle

import (
	"testing"

	"vera/internal/fault"
)

func TestCheck(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{"upload to processing", StatusUploaded, StatusProcessing, true},
		{"processing to ocr_done", StatusProcessing, StatusOCRDone, true},
		{"processing to canceled", StatusProcessing, StatusCanceled, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"ocr_done to validated", StatusOCRDone, StatusValidated, true},
		{"validated to summarized", StatusValidated, StatusSummarized, true},
		{"validated to exported", StatusValidated, StatusExported, true},
		{"summarized to exported", StatusSummarized, StatusExported, true},
		{"re-export", StatusExported, StatusExported, true},
		{"skip recognition", StatusUploaded, StatusOCRDone, false},
		{"skip review", StatusOCRDone, StatusExported, false},
		{"validated back to processing", StatusValidated, StatusProcessing, false},
		{"canceled is absorbing", StatusCanceled, StatusProcessing, false},
		{"failed is absorbing", StatusFailed, StatusOCRDone, false},
		{"self transition", StatusProcessing, StatusProcessing, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(tc.from, tc.to)
			if tc.ok && err != nil {
				t.Fatalf("Check(%s, %s) = %v, want nil", tc.from, tc.to, err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("Check(%s, %s) = nil, want invalid_transition", tc.from, tc.to)
				}
				if !fault.IsKind(err, fault.InvalidTransition) {
					t.Fatalf("Check(%s, %s) kind = %s, want invalid_transition", tc.from, tc.to, fault.KindOf(err))
				}
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name  string
		pages []Status
		want  Status
	}{
		{"no pages", nil, StatusUploaded},
		{"all uploaded", []Status{StatusUploaded, StatusUploaded}, StatusUploaded},
		{"one still processing", []Status{StatusOCRDone, StatusProcessing}, StatusProcessing},
		{"all ocr_done", []Status{StatusOCRDone, StatusOCRDone}, StatusOCRDone},
		{"mixed ocr_done and validated", []Status{StatusValidated, StatusOCRDone}, StatusOCRDone},
		{"all validated", []Status{StatusValidated, StatusValidated}, StatusValidated},
		{"validated and exported", []Status{StatusValidated, StatusExported}, StatusValidated},
		{"failed page dominates", []Status{StatusOCRDone, StatusFailed}, StatusFailed},
		{"canceled page dominates", []Status{StatusCanceled, StatusOCRDone}, StatusCanceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Aggregate(tc.pages); got != tc.want {
				t.Fatalf("Aggregate(%v) = %s, want %s", tc.pages, got, tc.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !Terminal(StatusCanceled) || !Terminal(StatusFailed) || Terminal(StatusExported) {
		t.Fatal("Terminal covers exactly canceled and failed")
	}
	if !Cancelable(StatusUploaded) || !Cancelable(StatusProcessing) || Cancelable(StatusOCRDone) {
		t.Fatal("Cancelable covers exactly uploaded and processing")
	}
	if ReviewableOrLater(StatusProcessing) || ReviewableOrLater(StatusUploaded) || !ReviewableOrLater(StatusValidated) {
		t.Fatal("ReviewableOrLater must exclude uploaded and processing")
	}
}
