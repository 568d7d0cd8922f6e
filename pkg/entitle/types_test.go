package entitle

import "testing"

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input  string
		want   Status
		wantOK bool
	}{
		{"active", StatusActive, true},
		{"trialing", StatusTrialing, true},
		{"paid", StatusPaid, true},
		{"canceled", StatusCanceled, true},
		{"expired", StatusExpired, true},
		{"unpaid", StatusUnpaid, true},
		{"past_due", StatusPastDue, true},
		{"paused", StatusPaused, true},
		{"scheduled_cancel", StatusScheduledCancel, true},
		{"pending", StatusPending, true},
		{"  Active ", StatusActive, true},
		{"ACTIVE", StatusActive, true},
		{"", StatusPending, false},
		{"incomplete", StatusPending, false},
		{"deleted", StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseStatus(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseStatus(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	if !StatusScheduledCancel.Valid() {
		t.Error("scheduled_cancel should be a valid status")
	}
	if Status("refunded").Valid() {
		t.Error("refunded should not be a valid status")
	}
}
