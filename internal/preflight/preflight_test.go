package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveTenantMatchesCaseInsensitiveSubstring(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "perpDexs" {
			t.Errorf("unexpected request type %q", body["type"])
		}
		_ = json.NewEncoder(w).Encode([]Tenant{{Name: "Acme"}, {Name: "XYZ-Perps"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	dex, name, err := c.ResolveTenant(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("ResolveTenant: %v", err)
	}
	if dex != 1 || name != "XYZ-Perps" {
		t.Errorf("got dex=%d name=%q, want dex=1 name=XYZ-Perps", dex, name)
	}
}

func TestResolveTenantNoMatchIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Tenant{{Name: "Acme"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, _, err := c.ResolveTenant(context.Background(), "nope"); err == nil {
		t.Error("expected an error when no tenant matches")
	}
}

func TestFetchAssetUniverseReturnsOrderedList(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"universe": []AssetMeta{{Name: "BTC"}, {Name: "ETH"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	universe, err := c.FetchAssetUniverse(context.Background(), "XYZ-Perps")
	if err != nil {
		t.Fatalf("FetchAssetUniverse: %v", err)
	}
	if len(universe) != 2 || universe[0].Name != "BTC" || universe[1].Name != "ETH" {
		t.Errorf("universe = %v, want [BTC ETH]", universe)
	}
}
