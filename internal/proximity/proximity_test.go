package proximity

import "testing"

func TestValidate(t *testing.T) {
	strict := Validator{Required: true}
	cases := []struct {
		bound, current string
		want           bool
	}{
		{"aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff", true},
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF", false},
		{"aa:bb:cc:dd:ee:ff", "", false},
		{"", "", false},
		{"aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:00", false},
	}
	for _, tc := range cases {
		if got := strict.Validate(tc.bound, tc.current); got != tc.want {
			t.Fatalf("Validate(%q, %q) = %v, want %v", tc.bound, tc.current, got, tc.want)
		}
	}
	if !(Validator{}).Validate("aa:bb:cc:dd:ee:ff", "") {
		t.Fatalf("optional validator should always pass")
	}
}

func TestParseBSSID(t *testing.T) {
	cases := map[string]string{
		"    Name                   : Wi-Fi\n    BSSID                  : 3c:52:82:aa:10:f1\n": "3c:52:82:aa:10:f1",
		"wlan0     IEEE 802.11  ESSID:\"campus\"\n          Mode:Managed  Frequency:5.18 GHz  Access Point: 3C:52:82:AA:10:F1   \n": "3C:52:82:AA:10:F1",
		"Connected to 3c:52:82:aa:10:f1 (on wlan0)\n\tSSID: campus\n": "3c:52:82:aa:10:f1",
		"wlan0     unassociated  Access Point: Not-Associated\n": "",
		"": "",
	}
	for output, want := range cases {
		if got := ParseBSSID(output); got != want {
			t.Fatalf("ParseBSSID(%q) = %q, want %q", output, got, want)
		}
	}
}
