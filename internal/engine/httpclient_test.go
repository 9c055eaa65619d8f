package engine

import (
	"net/http"
	"testing"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
)

func TestNewBrowserTransport(t *testing.T) {
	bt, err := NewBrowserTransport(5 * time.Second)
	if err != nil {
		t.Fatalf("NewBrowserTransport() error = %v", err)
	}
	if bt == nil || bt.client == nil {
		t.Fatal("NewBrowserTransport() returned an empty transport")
	}
}

func TestToBrowserRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.com/a?b=c", nil)
	if err != nil {
		t.Fatal(err)
	}
	SetBrowserHeaders(req, acceptHTML)

	freq, err := toBrowserRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if freq.URL.String() != "https://example.com/a?b=c" {
		t.Errorf("URL = %q", freq.URL)
	}
	if freq.Header.Get("User-Agent") == "" {
		t.Error("user-agent not copied")
	}
	if freq.Header.Get("Accept") != acceptHTML {
		t.Errorf("accept = %q", freq.Header.Get("Accept"))
	}
	if len(freq.Header[fhttp.HeaderOrderKey]) == 0 {
		t.Error("header order not set")
	}
}
