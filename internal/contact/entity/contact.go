package entity

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date (no time of day). JSON form is "2006-01-02";
// it scans from and stores as a SQL DATE.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	d.Time = t
	return nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = v
		return nil
	case []byte:
		t, err := time.Parse(dateLayout, string(v))
		if err != nil {
			return err
		}
		d.Time = t
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

// Contact is a row in the `contacts` table. Contact identity is
// deduplicated by email; ownership lives in the user_contact relation and a
// contact may be shared by multiple users.
type Contact struct {
	ID             int64   `db:"id" json:"id"`
	FirstName      string  `db:"first_name" json:"first_name"`
	LastName       string  `db:"last_name" json:"last_name"`
	Email          string  `db:"email" json:"email"`
	Phone          string  `db:"phone" json:"phone"`
	Birthday       *Date   `db:"birthday" json:"birthday,omitempty"`
	AdditionalInfo *string `db:"additional_info" json:"additional_info,omitempty"`
}
