package runner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

func TestRunnerListScopesFromInventory(t *testing.T) {
	inventoryFile := filepath.Join(t.TempDir(), "hosts.ini")
	if err := os.WriteFile(inventoryFile, []byte("[finance]\nfin-01\n[lab]\nlab-[a:b]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	options := &Options{ListScopes: true, Inventory: inventoryFile}
	if err := options.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	r, err := NewRunner(options)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	defer r.Close()

	scopes, err := r.service.ListScopes(context.Background())
	if err != nil {
		t.Fatalf("ListScopes() error = %v", err)
	}
	want := []string{"finance", "lab", types.AllHosts.String()}
	if !reflect.DeepEqual(scopes, want) {
		t.Errorf("ListScopes() = %v, want %v", scopes, want)
	}

	hosts, err := r.resolver.Resolve(context.Background(), "LAB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if want := []string{"lab-a", "lab-b"}; !reflect.DeepEqual(hosts, want) {
		t.Errorf("Resolve() = %v, want %v", hosts, want)
	}
}

func TestRunnerRequiresQuser(t *testing.T) {
	options := &Options{Username: "jdoe", Scope: types.AllHosts.String(), QuserPath: filepath.Join(t.TempDir(), "missing"), NoErrorLog: true}
	if err := options.validate(); err != nil {
		t.Fatalf("validate() error = %v", err)
	}
	if _, err := NewRunner(options); err == nil {
		t.Error("NewRunner() succeeded without a quser binary")
	}
}
