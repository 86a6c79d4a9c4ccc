package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/", DefaultLimit, 0},
		{"/?limit=50&offset=10", 50, 10},
		{"/?limit=5000", MaxLimit, 0},
		{"/?limit=0", DefaultLimit, 0},
		{"/?limit=abc&offset=xyz", DefaultLimit, 0},
		{"/?offset=-5", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p := paramsFor(t, tt.target)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got %+v, want limit=%d offset=%d", p, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if got := p.SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("SQL() = %q", got)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b", "c"}, 10, 3, 0)
	if r.Total != 10 || !r.HasMore {
		t.Errorf("expected total 10 with more pages, got %+v", r)
	}
	if r2 := NewResponse([]string{"a"}, 3, 3, 0); r2.HasMore {
		t.Error("expected has_more to be false when offset+limit >= total")
	}
}

func TestResponse_WithNext(t *testing.T) {
	q := url.Values{"farm_id": {"f1"}}
	r := NewResponse(nil, 30, 10, 10).WithNext("/api/v1/treatments", q)
	want := "/api/v1/treatments?farm_id=f1&limit=10&offset=20"
	if r.Next != want {
		t.Errorf("Next = %q, want %q", r.Next, want)
	}
	if q.Get("offset") != "" {
		t.Error("WithNext must not modify the caller's query")
	}

	last := NewResponse(nil, 30, 10, 20).WithNext("/x", nil)
	if last.Next != "" {
		t.Errorf("expected no next link on last page, got %q", last.Next)
	}
}

func TestPage(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6}
	tests := []struct {
		name string
		p    Params
		want []int
	}{
		{"first", Params{Limit: 3, Offset: 0}, []int{0, 1, 2}},
		{"partial", Params{Limit: 3, Offset: 6}, []int{6}},
		{"past end", Params{Limit: 3, Offset: 10}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Page(items, tt.p)
			if len(got) != len(tt.want) {
				t.Fatalf("Page() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Page() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
