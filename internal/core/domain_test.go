package core

import (
	"errors"
	"testing"
)

func validForm() TransactionForm {
	return TransactionForm{
		Description: "Groceries",
		Amount:      Money{Cents: 2599},
		Type:        Expense,
		Category:    "Food",
		Date:        "2025-01-10",
	}
}

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{"2025-01-01", true},
		{"2025-12-31", true},
		{"2024-02-29", true},
		{"2025-02-29", false},
		{"2025-1-1", false},
		{"", false},
		{"yesterday", false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateMonthKey(t *testing.T) {
	if got := Date("2025-03-09").MonthKey(); got != "2025-03" {
		t.Fatalf("MonthKey() = %q", got)
	}
}

func TestParseTransactionType(t *testing.T) {
	for in, want := range map[string]TransactionType{"income": Income, " Expense ": Expense, "INCOME": Income} {
		got, err := ParseTransactionType(in)
		if err != nil || got != want {
			t.Fatalf("ParseTransactionType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTransactionType("transfer"); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestTransactionFormValidate(t *testing.T) {
	if err := validForm().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*TransactionForm)
		want   error
	}{
		{"empty description", func(f *TransactionForm) { f.Description = "  " }, ErrEmptyDescription},
		{"zero amount", func(f *TransactionForm) { f.Amount = Money{} }, ErrInvalidAmount},
		{"negative amount", func(f *TransactionForm) { f.Amount = Money{Cents: -5} }, ErrInvalidAmount},
		{"bad type", func(f *TransactionForm) { f.Type = "Transfer" }, ErrInvalidType},
		{"empty category", func(f *TransactionForm) { f.Category = "" }, ErrEmptyCategory},
		{"bad date", func(f *TransactionForm) { f.Date = "2025-13-01" }, ErrInvalidDate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validForm()
			tc.mutate(&f)
			if err := f.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTransactionPatch(t *testing.T) {
	if err := (TransactionPatch{}).Validate(); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("empty patch: got %v", err)
	}

	amount := Money{Cents: 500}
	category := " Rent "
	p := TransactionPatch{Amount: &amount, Category: &category}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	tx := validForm().Transaction("tx-1")
	got := p.Apply(tx)
	if got.ID != "tx-1" || got.Amount.Cents != 500 || got.Category != "Rent" || got.Description != "Groceries" {
		t.Fatalf("Apply() = %+v", got)
	}

	zero := Money{}
	if err := (TransactionPatch{Amount: &zero}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount patch: got %v", err)
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := error(&AuthError{Message: "Authentication failed", Err: cause})
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Message != "Authentication failed" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause")
	}
}
