package model

// Unit is a system of measurement for answers. Numerical systems (standard,
// imperial, rank) store numbers; enumerated and freetext systems store
// references into the choices table; datetime stores a choice-encoded date.
type Unit struct {
	ID     int64      `db:"id" json:"-"`
	Slug   string     `db:"slug" json:"slug"`
	Title  string     `db:"title" json:"title"`
	System UnitSystem `db:"system" json:"system"`
}

// Choice is one value in an enumerated unit's value space. Freetext answers
// also materialize a choice row holding the collected text.
type Choice struct {
	ID     int64   `db:"id" json:"-"`
	UnitID int64   `db:"unit_id" json:"-"`
	Rank   int     `db:"rank" json:"rank"`
	Text   string  `db:"text" json:"text"`
	Descr  *string `db:"descr" json:"descr,omitempty"`
}

// UnitEquivalence is a linear conversion between two units of the same
// numerical system family: target = measured * factor * scale.
//
// Scale-only rows (factor == 1) relate a unit to its scaled-up or
// scaled-down siblings (kg to t, kg to g) and are used to retain precision
// when a measure would overflow or round badly in the question unit.
type UnitEquivalence struct {
	ID       int64   `db:"id" json:"-"`
	SourceID int64   `db:"source_id" json:"-"`
	TargetID int64   `db:"target_id" json:"-"`
	Factor   float64 `db:"factor" json:"factor"`
	Scale    float64 `db:"scale" json:"scale"`
}

// AsTargetUnit converts a measure collected in the source unit into the
// target unit.
func (e *UnitEquivalence) AsTargetUnit(measured float64) float64 {
	return measured * e.Factor * e.Scale
}

// AsSourceUnit is the inverse conversion.
func (e *UnitEquivalence) AsSourceUnit(measured float64) float64 {
	return measured / (e.Factor * e.Scale)
}
