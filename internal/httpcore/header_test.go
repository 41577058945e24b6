package httpcore

import "testing"

func TestHeaderCanonicalAndAddSetGet(t *testing.T) {
	h := NewHeader()
	h.Add("content-type", "text/plain")
	h.Add("Content-Type", "charset=utf-8")
	h.Add("HOST", "example.com")
	h.Set("x-powered-by", "go")

	// Keys must be stored/accessible in canonical form.
	if got := h.Get("CONTENT-TYPE"); got != "text/plain" { // FIRST value only
		t.Fatalf("Get(Content-Type) = %q, want %q", got, "text/plain")
	}
	if got := h.Get("host"); got != "example.com" {
		t.Fatalf("Get(Host) = %q", got)
	}
	// Set replaces previous values.
	h.Set("X-Powered-By", "rust? no, go")
	if got := h.Get("x-powered-by"); got != "rust? no, go" {
		t.Fatalf("Get after Set = %q", got)
	}
}

func TestHeaderValuesAndDel(t *testing.T) {
	h := NewHeader()
	h.Add("Accept", "text/html")
	h.Add("ACCEPT", "application/json")

	vals := h.Values("accept")
	if len(vals) != 2 || vals[0] != "text/html" || vals[1] != "application/json" {
		t.Fatalf("Values = %#v", vals)
	}

	h.Del("ACCEPT")
	if got := len(h.Values("Accept")); got != 0 {
		t.Fatalf("Del failed, still %d values", got)
	}
}

func TestHeaderPreservesInsertionOrder(t *testing.T) {
	h := NewHeader()
	h.Add("Zeta", "1")
	h.Add("Alpha", "2")
	h.Add("Mu", "3")

	var order []string
	h.Range(func(k, v string) { order = append(order, k) })
	want := []string{"Zeta", "Alpha", "Mu"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHeaderSetPreservesPosition(t *testing.T) {
	h := NewHeader()
	h.Add("A", "1")
	h.Add("B", "2")
	h.Set("A", "overwritten")

	var order []string
	h.Range(func(k, v string) { order = append(order, k) })
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("Set must not move the field: got %v", order)
	}
	if got := h.Get("A"); got != "overwritten" {
		t.Fatalf("Get(A) = %q", got)
	}
}

func TestHeaderValidationLimits(t *testing.T) {
	h := NewHeader()
	// Prepare many fields quickly.
	for i := 0; i < 5; i++ {
		h.Add("X-K"+string(rune('A'+i)), "v")
	}
	lim := HeaderLimits{
		MaxFields:           4,
		MaxKeyBytes:         32,
		MaxValueBytes:       8,
		MaxTotalValuesBytes: 32,
	}
	if err := ValidateHeader(h, lim); err == nil {
		t.Fatal("expected error for too many fields")
	}

	// Invalid name (space) should fail.
	h = NewHeader()
	h.entries = []headerEntry{{key: "Bad Name", value: "v"}}
	h.index = map[string][]int{"Bad Name": {0}}
	if err := ValidateHeader(h, lim); err == nil {
		t.Fatal("expected invalid field-name error")
	}

	// Invalid value (control characters other than HTAB).
	h = NewHeader()
	h.Add("X-K", "ok\tbut\u0007bell") // \a is control char, invalid
	if err := ValidateHeader(h, lim); err == nil {
		t.Fatal("expected invalid value error")
	}

	// Value too long.
	h = NewHeader()
	h.Add("X-K", "123456789") // 9 bytes > MaxValueBytes(8)
	if err := ValidateHeader(h, lim); err == nil {
		t.Fatal("expected value too long error")
	}

	// Sum of values too large.
	h = NewHeader()
	h.Add("A", "12345678")
	h.Add("B", "12345678")
	h.Add("C", "1")
	// total = 8+8+1 = 17 > MaxTotalValuesBytes(16) when set so:
	lim.MaxTotalValuesBytes = 16
	if err := ValidateHeader(h, lim); err == nil {
		t.Fatal("expected total values size error")
	}

	// Valid case.
	h = NewHeader()
	h.Add("Content-Type", "text/plain")
	h.Add("Host", "ex.com")
	lim = HeaderLimits{MaxFields: 8, MaxKeyBytes: 64, MaxValueBytes: 64, MaxTotalValuesBytes: 0}
	if err := ValidateHeader(h, lim); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestCanonicalHeaderKeyBehavior(t *testing.T) {
	// Your CanonicalHeaderKey must match stdlib's semantics.
	cases := map[string]string{
		"content-type": "Content-Type",
		"HOST":         "Host",
		"etag":         "Etag",
		"x-custom-id":  "X-Custom-Id",
		"r":            "R",
		"":             "",
	}
	for in, want := range cases {
		if got := CanonicalHeaderKey(in); got != want {
			t.Fatalf("CanonicalHeaderKey(%q)=%q, want %q", in, got, want)
		}
	}
}
