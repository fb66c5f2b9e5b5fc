package codec

import (
	"testing"
	"time"
)

func TestParseDateZeroIsInvalid(t *testing.T) {
	if got := ParseDate(0); !got.IsZero() {
		t.Fatalf("ParseDate(0) = %v, want zero time", got)
	}
}

func TestParseDateEncodeDateRoundTrip(t *testing.T) {
	want := time.Date(2021, time.March, 17, 0, 0, 0, 0, time.UTC)
	encoded := EncodeDate(want)
	got := ParseDate(encoded)

	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseTimeZeroIsInvalid(t *testing.T) {
	if got := ParseTime(0); !got.IsZero() {
		t.Fatalf("ParseTime(0) = %v, want zero time", got)
	}
}

func TestParseTimeEncodeTimeRoundTripEvenSeconds(t *testing.T) {
	raw := uint16(10)<<11 | uint16(30)<<5 | uint16(20)
	got := ParseTime(raw)

	if got.Hour() != 10 || got.Minute() != 30 || got.Second() != 40 {
		t.Fatalf("ParseTime() = %02d:%02d:%02d, want 10:30:40", got.Hour(), got.Minute(), got.Second())
	}

	if roundTripped := EncodeTime(got); roundTripped != raw {
		t.Fatalf("EncodeTime() = %#x, want %#x", roundTripped, raw)
	}
}

func TestEncodeDateZeroTime(t *testing.T) {
	if got := EncodeDate(time.Time{}); got != 0 {
		t.Fatalf("EncodeDate(zero) = %#x, want 0", got)
	}
}
