package auth

import "testing"

func TestGenerateOTPLength(t *testing.T) {
	for _, digits := range []int{4, 6, 8, 10} {
		code, err := GenerateOTP(digits)
		if err != nil {
			t.Fatalf("GenerateOTP(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Errorf("GenerateOTP(%d) = %q, want %d digits", digits, code, digits)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Errorf("GenerateOTP(%d) = %q contains non-digit", digits, code)
			}
		}
	}
}

func TestGenerateOTPOutOfRange(t *testing.T) {
	for _, digits := range []int{0, 3, 11} {
		if _, err := GenerateOTP(digits); err == nil {
			t.Errorf("GenerateOTP(%d) succeeded, want error", digits)
		}
	}
}
