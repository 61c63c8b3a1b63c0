package db

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWhereClause_Base(t *testing.T) {
	f := Filter{UserID: uuid.New(), Now: time.Now()}

	where, args := f.whereClause()

	if !strings.Contains(where, "user_id = $1") {
		t.Errorf("user constraint missing: %s", where)
	}
	if !strings.Contains(where, "is_active = TRUE") {
		t.Errorf("active constraint missing: %s", where)
	}
	if len(args) != 2 {
		t.Errorf("base filter carries user and now only, got %d args", len(args))
	}
}

func TestWhereClause_SearchEscapesMetacharacters(t *testing.T) {
	f := Filter{UserID: uuid.New(), Now: time.Now(), Search: `50%_off\deal`}

	where, args := f.whereClause()

	if !strings.Contains(where, "merchant_name ILIKE $3 OR outlet_name ILIKE $4") {
		t.Fatalf("search condition missing: %s", where)
	}
	want := `%50\%\_off\\deal%`
	if args[2] != want {
		t.Errorf("expected %q, got %q", want, args[2])
	}
	if args[3] != want {
		t.Errorf("outlet pattern should match merchant pattern, got %q", args[3])
	}
}

func TestWhereClause_PercentageImpliesCashback(t *testing.T) {
	min := 5.0
	max := 15.0
	f := Filter{UserID: uuid.New(), Now: time.Now(), MinPercentage: &min, MaxPercentage: &max}

	where, args := f.whereClause()

	if !strings.Contains(where, "offer_type = $3") {
		t.Errorf("percentage filter should pin the cashback variant: %s", where)
	}
	if !strings.Contains(where, "max_percentage >= $4") || !strings.Contains(where, "min_percentage <= $5") {
		t.Errorf("range overlap conditions missing: %s", where)
	}
	if args[2] != OfferTypeCashback {
		t.Errorf("expected cashback offer type, got %v", args[2])
	}
}

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"plain":      "plain",
		"100%":       `100\%`,
		"a_b":        `a\_b`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range cases {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
