package symbols

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestHTMLDiscoverer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<form><select id="Code" name="Code">
			<option value="TEL">TEL</option>
			<option value="ALK">ALK</option>
			<option value="RMDEN21">RMDEN21</option>
			<option value="KMB">KMB</option>
			<option value="ALK">ALK</option>
			<option value=""></option>
		</select></form>`)
	}))
	defer srv.Close()

	got, err := NewHTMLDiscoverer(srv.URL, "", srv.Client(), testLogger()).Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	want := []string{"ALK", "KMB", "TEL"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestHTMLDiscovererMissingDropdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>maintenance</body></html>`)
	}))
	defer srv.Close()

	_, err := NewHTMLDiscoverer(srv.URL, "", srv.Client(), testLogger()).Discover(context.Background())
	if !errors.Is(err, ErrNoSymbolList) {
		t.Errorf("expected ErrNoSymbolList, got %v", err)
	}
}

func TestHTMLDiscovererBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewHTMLDiscoverer(srv.URL, "", srv.Client(), testLogger()).Discover(context.Background()); err == nil {
		t.Error("expected an error for a 500 response")
	}
}

func TestStaticAndParseList(t *testing.T) {
	got, _ := StaticDiscoverer{"KMB", " ALK", "KMB"}.Discover(context.Background())
	if !reflect.DeepEqual(got, []string{"ALK", "KMB"}) {
		t.Errorf("unexpected static symbols %v", got)
	}
	if got := ParseList("TEL,,ALK ,"); !reflect.DeepEqual(got, []string{"ALK", "TEL"}) {
		t.Errorf("unexpected parsed list %v", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.txt")
	if err := os.WriteFile(path, []byte("# blue chips\nALK\n\nKMB\nALK\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"ALK", "KMB"}) {
		t.Errorf("unexpected symbols %v", got)
	}
}
