package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"+15551234567", "+15551234567"},
		{" +1 (555) 123-4567 ", "+15551234567"},
		{"555.123.4567", "5551234567"},
		{"tel:+15551234567", "+15551234567"},
		{"TEL:+1-555-123-4567;phone-context=example.com", "+15551234567"},
		{"tel:%2B15551234567", "+15551234567"},
		{"004915112345678", "+4915112345678"},
		{"*86#", "*86#"},
		{"1+2", "12"},
		{"+", ""},
		{"()-", ""},
		{"Google", "GOOGLE"},
		{"  my   Bank ", "MY BANK"},
		{"sms:VERIFY", "VERIFY"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, in := range []string{"+1 555 123 4567", "tel:0044 20 7946 0958", "Acme Bank"} {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"+15551234567", true},
		{"5551234567", true},
		{"*86#", true},
		{"GOOGLE", true},
		{"", false},
		{"+1 555", false},
		{"google", false},
		{"+123456789012345678901", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}
