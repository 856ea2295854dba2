package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type lookupRequest struct {
	Symbol string `query:"symbol" validate:"omitempty,symbol"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=100"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()
	bind := func(q string) (*lookupRequest, []ValidationError) {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/lookup?"+q, nil), httptest.NewRecorder())
		req := &lookupRequest{}
		verr := ReadAndValidateRequest(c, req)
		if verr == nil {
			return req, nil
		}
		return req, verr.([]ValidationError)
	}

	req, errs := bind("")
	if errs != nil || req.Limit != 50 {
		t.Fatalf("defaults: req=%+v errs=%v", req, errs)
	}
	for _, sym := range []string{"M%26M", "BAJAJ-AUTO", "TCS.NS"} {
		if _, errs := bind("symbol=" + sym); errs != nil {
			t.Fatalf("symbol %s rejected: %v", sym, errs)
		}
	}

	_, errs = bind("symbol=TCS%3BDROP")
	if len(errs) != 1 || errs[0].Code != "ERR_SYMBOL" || errs[0].Field != "symbol" {
		t.Fatalf("bad symbol errs = %+v", errs)
	}

	_, errs = bind("limit=500")
	if len(errs) != 1 || errs[0].Code != "ERR_LTE" || errs[0].Field != "limit" || errs[0].Params["max"] != "100" {
		t.Fatalf("limit errs = %+v", errs)
	}
	if errs[0].Message != "limit must be 100 or less" {
		t.Fatalf("message = %q", errs[0].Message)
	}

	_, errs = bind("limit=abc")
	if len(errs) != 1 || errs[0].Code != "ERR_BIND" {
		t.Fatalf("bind errs = %+v", errs)
	}
}
