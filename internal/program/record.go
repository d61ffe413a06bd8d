package program

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the persisted form of a program. Replaying TypeData through the
// variant named by Type rebuilds the schedule.
type Record struct {
	Type     string          `json:"type"`
	TypeData json.RawMessage `json:"type_data"`
	Name     string          `json:"name"`
	Enabled  bool            `json:"enabled"`
	Stations []int           `json:"stations"`
	Fixed    bool            `json:"fixed"`
	CutOff   float64         `json:"cut_off"`
}

// ToRecord captures p for persistence.
func ToRecord(p *Program) (Record, error) {
	data, err := json.Marshal(p.params)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s params: %w", p.Kind(), err)
	}
	return Record{
		Type:     p.Kind().String(),
		TypeData: data,
		Name:     p.Name,
		Enabled:  p.Enabled,
		Stations: append([]int(nil), p.Stations...),
		Fixed:    p.Fixed,
		CutOff:   p.CutOff,
	}, nil
}

// FromRecord rebuilds a program. Unknown fields inside type_data are rejected.
func FromRecord(r Record, bc BuildContext) (*Program, error) {
	params, err := DecodeParams(r.Type, r.TypeData)
	if err != nil {
		return nil, err
	}
	p, err := New(r.Name, params, bc)
	if err != nil {
		return nil, err
	}
	p.Enabled = r.Enabled
	p.Stations = append([]int(nil), r.Stations...)
	p.Fixed = r.Fixed
	p.CutOff = r.CutOff
	if p.CutOff < 0 || p.CutOff > 5 {
		return nil, fmt.Errorf("%w: cut_off %.2f out of range", ErrInvalidParams, p.CutOff)
	}
	return p, nil
}

// DecodeParams decodes type_data for the named variant.
func DecodeParams(typ string, data json.RawMessage) (Params, error) {
	kind, err := ParseKind(typ)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindDaysSimple:
		return decodeInto[DaysSimple](data)
	case KindDaysAdvanced:
		return decodeInto[DaysAdvanced](data)
	case KindRepeatSimple:
		return decodeInto[RepeatSimple](data)
	case KindRepeatAdvanced:
		return decodeInto[RepeatAdvanced](data)
	case KindWeeklyAdvanced:
		return decodeInto[WeeklyAdvanced](data)
	case KindCustom:
		return decodeInto[Custom](data)
	case KindWeeklyWeather:
		return decodeInto[WeeklyWeather](data)
	}
	return nil, fmt.Errorf("%w: unhandled program type %s", ErrInvalidParams, kind)
}

func decodeInto[T Params](data json.RawMessage) (Params, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: type_data: %v", ErrInvalidParams, err)
	}
	return v, nil
}
