package source

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/protoquery/internal/domain"
)

func testCatalog() *Catalog {
	return NewCatalog([]Source{
		{ID: "acls", Name: "ACLS", Enabled: true},
		{ID: "pals", Name: "PALS", Enabled: false},
		{ID: "local-ems", Name: "Local EMS", Enabled: true},
	})
}

func TestCatalog_Enabled(t *testing.T) {
	got := testCatalog().Enabled()
	if len(got) != 2 || got[0].ID != "acls" || got[1].ID != "local-ems" {
		t.Errorf("Enabled() = %+v", got)
	}
}

func TestCatalog_Check(t *testing.T) {
	c := testCatalog()

	if err := c.Check([]string{"acls", "local-ems"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := c.Check([]string{"acls", "nrp"})
	if !errors.Is(err, domain.ErrInvalidInput) || !errors.Is(err, domain.ErrUnknownSource) {
		t.Errorf("unknown source: got %v", err)
	}

	err = c.Check([]string{"pals"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("disabled source: got %v", err)
	}
	if err.Error() != `source "pals" is disabled` {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCatalog_EmptyAcceptsAll(t *testing.T) {
	var nilCatalog *Catalog
	if err := nilCatalog.Check([]string{"anything"}); err != nil {
		t.Errorf("nil catalog: %v", err)
	}
	if err := NewCatalog(nil).Check([]string{"anything"}); err != nil {
		t.Errorf("empty catalog: %v", err)
	}
}
