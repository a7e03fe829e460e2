package monitor

import "testing"

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		allowed []string
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			reqHost: "localhost:8090",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8090",
			reqHost: "localhost:8090",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			reqHost: "localhost:8090",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			allowed: []string{"https://dash.example.com"},
			reqHost: "0.0.0.0:8090",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			allowed: []string{"https://dash.example.com"},
			reqHost: "0.0.0.0:8090",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://backtest.internal:8090",
			reqHost: "backtest.internal:8090",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandlers(nil, tt.allowed, nil)
			if got := h.isOriginAllowed(tt.origin, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandlersSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	h := NewHandlers(nil, nil, nil)
	if _, ok := h.snapshot(); ok {
		t.Fatalf("snapshot() ok = true before any report, want false")
	}

	want := ProgressSnapshot{Fraction: 0.5, TotalPnL: 123.45, TradeCount: 7}
	h.SetLatest(want)

	got, ok := h.snapshot()
	if !ok {
		t.Fatalf("snapshot() ok = false after SetLatest, want true")
	}
	if got.Fraction != want.Fraction || got.TotalPnL != want.TotalPnL || got.TradeCount != want.TradeCount {
		t.Fatalf("snapshot() = %+v, want %+v", got, want)
	}
}
