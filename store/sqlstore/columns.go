package sqlstore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// COLUMN TYPES - Portable across SQLite TEXT and PostgreSQL DATE/TIMESTAMPTZ
// =============================================================================

// dbDate is a nullable calendar day. SQLite hands back strings, PostgreSQL
// hands back time.Time; both are accepted.
type dbDate struct {
	Date  generic.TimePoint
	Valid bool
}

func dateOf(tp generic.TimePoint) dbDate { return dbDate{Date: tp, Valid: true} }

func dateOfPtr(tp *generic.TimePoint) dbDate {
	if tp == nil {
		return dbDate{}
	}
	return dbDate{Date: *tp, Valid: true}
}

func (d *dbDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = dbDate{}
		return nil
	case time.Time:
		*d = dateOf(generic.DateOf(v))
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into date", src)
}

func (d *dbDate) parse(s string) error {
	if len(s) > len(generic.DateLayout) {
		s = s[:len(generic.DateLayout)]
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return err
	}
	*d = dateOf(tp)
	return nil
}

func (d dbDate) Value() (driver.Value, error) {
	if !d.Valid {
		return nil, nil
	}
	return d.Date.String(), nil
}

func (d dbDate) ptr() *generic.TimePoint {
	if !d.Valid {
		return nil
	}
	tp := d.Date
	return &tp
}

// dbTime is an instant stored as RFC 3339 text or TIMESTAMPTZ.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func timeOf(t time.Time) dbTime { return dbTime{Time: t.UTC(), Valid: true} }

func timeOfPtr(t *time.Time) dbTime {
	if t == nil {
		return dbTime{}
	}
	return timeOf(*t)
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = timeOf(v)
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = timeOf(parsed)
	return nil
}

func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time.Format(time.RFC3339Nano), nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// dbMoney is a nullable decimal stored as TEXT or NUMERIC.
type dbMoney struct {
	Money generic.Money
	Valid bool
}

func moneyOf(m generic.Money) dbMoney { return dbMoney{Money: m, Valid: true} }

func moneyOfPtr(m *generic.Money) dbMoney {
	if m == nil {
		return dbMoney{}
	}
	return moneyOf(*m)
}

func (m *dbMoney) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case nil:
		*m = dbMoney{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		*m = moneyOf(generic.NewMoney(v))
		return nil
	case float64:
		*m = moneyOf(generic.NewMoneyFromFloat(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into money", src)
	}
	parsed, err := generic.ParseMoney(s)
	if err != nil {
		return err
	}
	*m = moneyOf(parsed)
	return nil
}

func (m dbMoney) Value() (driver.Value, error) {
	if !m.Valid {
		return nil, nil
	}
	return m.Money.Value.String(), nil
}

func (m dbMoney) ptr() *generic.Money {
	if !m.Valid {
		return nil
	}
	v := m.Money
	return &v
}

// jsonText stores a value as a JSON document in a TEXT column.
type jsonText[T any] struct {
	V T
}

func (j *jsonText[T]) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	case []byte:
		return json.Unmarshal(v, &j.V)
	}
	return fmt.Errorf("cannot scan %T into json", src)
}

func (j jsonText[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
