package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Income  TransactionType = "Income"
	Expense TransactionType = "Expense"
)

// DateLayout is the only accepted date format. Dates are compared as strings,
// which is correct because the layout is fixed width and zero padded.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds descriptions, in characters.
const MaxDescriptionLength = 200

type (
	TransactionType string

	// Date is a calendar date in YYYY-MM-DD form.
	Date string

	Money struct {
		Cents int64
	}

	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}

	// Transaction is a single income or expense record owned by one user.
	Transaction struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Category    string          `json:"category"`
		Date        Date            `json:"date"`
	}

	// TransactionForm holds the user-editable fields of a transaction.
	TransactionForm struct {
		Description string          `json:"description"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Category    string          `json:"category"`
		Date        Date            `json:"date"`
	}

	// TransactionPatch is a partial update; nil fields are left untouched.
	TransactionPatch struct {
		Description *string          `json:"description,omitempty"`
		Amount      *Money           `json:"amount,omitempty"`
		Type        *TransactionType `json:"type,omitempty"`
		Category    *string          `json:"category,omitempty"`
		Date        *Date            `json:"date,omitempty"`
	}
)

var (
	ErrEmptyDescription   = errors.New("Description is required.")
	ErrDescriptionTooLong = errors.New("Description is too long (max 200 characters).")
	ErrInvalidAmount      = errors.New("Amount must be greater than zero.")
	ErrAmountNotNumber    = errors.New("Amount must be a number.")
	ErrEmptyCategory      = errors.New("Category is required.")
	ErrInvalidDate        = errors.New("Invalid date.")
	ErrInvalidType        = errors.New("Type must be Income or Expense.")
	ErrEmptyPatch         = errors.New("Nothing to update.")

	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already in use")
)

// IsValidation reports whether err is a form validation failure, which is
// shown to the user as is and never reaches the store.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyDescription, ErrDescriptionTooLong, ErrInvalidAmount, ErrAmountNotNumber,
		ErrEmptyCategory, ErrInvalidDate, ErrInvalidType, ErrEmptyPatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// AuthError is returned by the identity provider for rejected credentials or
// unavailable auth backends. Message is safe to show to the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

// ParseTransactionType accepts the canonical names case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return Income, nil
	case "expense":
		return Expense, nil
	}
	return "", ErrInvalidType
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", ErrInvalidDate
	}
	return Date(s), nil
}

// DateOf formats t as a Date.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Today returns the current local date.
func Today() Date {
	return DateOf(time.Now())
}

func (d Date) Validate() error {
	if _, err := time.Parse(DateLayout, string(d)); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func (d Date) IsZero() bool {
	return d == ""
}

func (d Date) String() string {
	return string(d)
}

// Time parses the date at midnight UTC. Invalid dates yield the zero time.
func (d Date) Time() time.Time {
	t, _ := time.Parse(DateLayout, string(d))
	return t
}

// MonthKey returns the YYYY-MM prefix used to bucket transactions by month.
func (d Date) MonthKey() string {
	if len(d) < 7 {
		return string(d)
	}
	return string(d[:7])
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (f TransactionForm) Validate() error {
	if strings.TrimSpace(f.Description) == "" {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(f.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if err := f.Amount.Validate(); err != nil {
		return err
	}
	if !f.Type.Valid() {
		return ErrInvalidType
	}
	if strings.TrimSpace(f.Category) == "" {
		return ErrEmptyCategory
	}
	return f.Date.Validate()
}

// Normalize trims free-text fields.
func (f TransactionForm) Normalize() TransactionForm {
	f.Description = strings.TrimSpace(f.Description)
	f.Category = strings.TrimSpace(f.Category)
	f.Date = Date(strings.TrimSpace(string(f.Date)))
	return f
}

// Transaction attaches an id to the form.
func (f TransactionForm) Transaction(id string) Transaction {
	return Transaction{
		ID:          id,
		Description: f.Description,
		Amount:      f.Amount,
		Type:        f.Type,
		Category:    f.Category,
		Date:        f.Date,
	}
}

// Form strips the id.
func (t Transaction) Form() TransactionForm {
	return TransactionForm{
		Description: t.Description,
		Amount:      t.Amount,
		Type:        t.Type,
		Category:    t.Category,
		Date:        t.Date,
	}
}

func (p TransactionPatch) IsEmpty() bool {
	return p.Description == nil && p.Amount == nil && p.Type == nil && p.Category == nil && p.Date == nil
}

// Validate checks only the fields that are present.
func (p TransactionPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if d == "" {
			return ErrEmptyDescription
		}
		if utf8.RuneCountInString(d) > MaxDescriptionLength {
			return ErrDescriptionTooLong
		}
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return err
		}
	}
	if p.Type != nil && !p.Type.Valid() {
		return ErrInvalidType
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return ErrEmptyCategory
	}
	if p.Date != nil {
		if err := p.Date.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns t with the patch applied. The id never changes.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	return t
}

// PatchFromForm builds a patch that overwrites every field, which is what the
// edit form submits.
func PatchFromForm(f TransactionForm) TransactionPatch {
	return TransactionPatch{
		Description: &f.Description,
		Amount:      &f.Amount,
		Type:        &f.Type,
		Category:    &f.Category,
		Date:        &f.Date,
	}
}
