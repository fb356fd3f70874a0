// Package form describes the fields collected by the diagnosis form and
// computes the ratios the form derives from them. The inference adapter in
// package ml never derives fields itself.
package form

import (
	"fmt"
	"sort"
)

// Field is one input of the diagnosis form. Name matches the dataset column.
type Field struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Section string  `json:"section"`
	Unit    string  `json:"unit,omitempty"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Boolean bool    `json:"boolean,omitempty"`
	// Derived fields are computed by Derive and never entered directly.
	Derived bool `json:"derived,omitempty"`
}

const (
	FieldAge           = "Age (yrs)"
	FieldWeight        = "Weight (Kg)"
	FieldHeight        = "Height(Cm)"
	FieldBMI           = "BMI"
	FieldHip           = "Hip(inch)"
	FieldWaist         = "Waist(inch)"
	FieldWaistHipRatio = "Waist:Hip Ratio"
	FieldFSH           = "FSH(mIU/mL)"
	FieldLH            = "LH(mIU/mL)"
	FieldFSHLHRatio    = "FSH/LH"
	// FieldCysts is collected by the form but is not a trained feature, so
	// reindexing drops it.
	FieldCysts = "Cysts (Y/N)"
)

const (
	sectionDemographic = "Demographic & Physical Information"
	sectionCycle       = "Cycle & Medical History"
	sectionSymptoms    = "Symptoms & Lifestyle"
	sectionHormone     = "Hormone & Ultrasound Readings"
	sectionHCG         = "HCG Readings & Ultrasound"
)

func yesNo(name, label, section string, def float64) Field {
	return Field{Name: name, Label: label, Section: section, Min: 0, Max: 1, Default: def, Boolean: true}
}

var fields = []Field{
	{Name: FieldAge, Label: "Age (years)", Section: sectionDemographic, Unit: "yrs", Min: 10, Max: 80, Default: 25},
	{Name: FieldWeight, Label: "Weight (Kg)", Section: sectionDemographic, Unit: "kg", Min: 30, Max: 200, Default: 60},
	{Name: FieldHeight, Label: "Height (Cm)", Section: sectionDemographic, Unit: "cm", Min: 100, Max: 250, Default: 160},
	{Name: FieldBMI, Label: "BMI (Calculated)", Section: sectionDemographic, Derived: true},
	{Name: "Blood Group", Label: "Blood Group (Numerical Encoding)", Section: sectionDemographic, Min: 1, Max: 8, Default: 3},
	{Name: "Pulse rate(bpm)", Label: "Pulse Rate (bpm)", Section: sectionDemographic, Unit: "bpm", Min: 40, Max: 120, Default: 75},
	{Name: "RR (breaths/min)", Label: "RR (breaths/min)", Section: sectionDemographic, Unit: "breaths/min", Min: 10, Max: 30, Default: 16},
	{Name: "Hb(g/dl)", Label: "Hb (g/dl)", Section: sectionDemographic, Unit: "g/dl", Min: 5, Max: 20, Default: 12},
	{Name: FieldHip, Label: "Hip (inch)", Section: sectionDemographic, Unit: "inch", Min: 20, Max: 60, Default: 38},

	{Name: FieldWaist, Label: "Waist (inch)", Section: sectionCycle, Unit: "inch", Min: 15, Max: 50, Default: 30},
	{Name: FieldWaistHipRatio, Label: "Waist:Hip Ratio (Calculated)", Section: sectionCycle, Derived: true},
	yesNo("Cycle(R/I)", "Cycle (Regular/Irregular)", sectionCycle, 1),
	{Name: "Cycle length(days)", Label: "Cycle Length (days)", Section: sectionCycle, Unit: "days", Min: 20, Max: 60, Default: 30},
	{Name: "Marraige Status (Yrs)", Label: "Marriage Status (Yrs)", Section: sectionCycle, Unit: "yrs", Min: 0, Max: 50, Default: 0},
	yesNo("Pregnant(Y/N)", "Pregnant (Y/N)", sectionCycle, 0),
	{Name: "No. of aborptions", Label: "No. of Abortions", Section: sectionCycle, Min: 0, Max: 10, Default: 0},
	{Name: "BP _Systolic (mmHg)", Label: "BP Systolic (mmHg)", Section: sectionCycle, Unit: "mmHg", Min: 80, Max: 200, Default: 120},
	{Name: "BP _Diastolic (mmHg)", Label: "BP Diastolic (mmHg)", Section: sectionCycle, Unit: "mmHg", Min: 40, Max: 120, Default: 80},

	yesNo("Weight gain(Y/N)", "Weight Gain (Y/N)", sectionSymptoms, 1),
	yesNo("hair growth(Y/N)", "Hair Growth (Y/N)", sectionSymptoms, 0),
	yesNo("Skin darkening (Y/N)", "Skin Darkening (Y/N)", sectionSymptoms, 0),
	yesNo("Hair loss(Y/N)", "Hair Loss (Y/N)", sectionSymptoms, 1),
	yesNo("Pimples(Y/N)", "Pimples (Y/N)", sectionSymptoms, 1),
	yesNo("Fast food (Y/N)", "Fast Food (Y/N)", sectionSymptoms, 1),
	yesNo("Reg.Exercise(Y/N)", "Regular Exercise (Y/N)", sectionSymptoms, 0),
	yesNo(FieldCysts, "Ovarian Cysts (Y/N)", sectionSymptoms, 1),

	{Name: "TSH (mIU/L)", Label: "TSH (mIU/L)", Section: sectionHormone, Unit: "mIU/L", Min: 0.1, Max: 10, Default: 2},
	{Name: "AMH(ng/mL)", Label: "AMH (ng/mL)", Section: sectionHormone, Unit: "ng/mL", Min: 0, Max: 20, Default: 4},
	{Name: "PRL(ng/mL)", Label: "PRL (ng/mL)", Section: sectionHormone, Unit: "ng/mL", Min: 0, Max: 100, Default: 15},
	{Name: "Vit D3 (ng/mL)", Label: "Vit D3 (ng/mL)", Section: sectionHormone, Unit: "ng/mL", Min: 0, Max: 100, Default: 30},
	{Name: "PRG(ng/mL)", Label: "PRG (ng/mL)", Section: sectionHormone, Unit: "ng/mL", Min: 0, Max: 50, Default: 0.5},
	{Name: "RBS(mg/dl)", Label: "RBS (mg/dl)", Section: sectionHormone, Unit: "mg/dl", Min: 50, Max: 300, Default: 90},
	{Name: FieldFSH, Label: "FSH (mIU/mL)", Section: sectionHormone, Unit: "mIU/mL", Min: 0.1, Max: 30, Default: 6},
	{Name: FieldLH, Label: "LH (mIU/mL)", Section: sectionHormone, Unit: "mIU/mL", Min: 0.1, Max: 50, Default: 10},
	{Name: FieldFSHLHRatio, Label: "FSH/LH Ratio (Calculated)", Section: sectionHormone, Derived: true},

	{Name: "I   beta-HCG(mIU/mL)", Label: "I beta-HCG (mIU/mL)", Section: sectionHCG, Unit: "mIU/mL", Min: 0, Max: 2000, Default: 0},
	{Name: "II    beta-HCG(mIU/mL)", Label: "II beta-HCG (mIU/mL)", Section: sectionHCG, Unit: "mIU/mL", Min: 0, Max: 2000, Default: 0},
	{Name: "Follicle No. (L)", Label: "Follicle No. (Left Ovary)", Section: sectionHCG, Min: 0, Max: 50, Default: 8},
	{Name: "Follicle No. (R)", Label: "Follicle No. (Right Ovary)", Section: sectionHCG, Min: 0, Max: 50, Default: 7},
	{Name: "Avg. F size (L) (mm)", Label: "Avg. Follicle Size (L) (mm)", Section: sectionHCG, Unit: "mm", Min: 0, Max: 30, Default: 7},
	{Name: "Avg. F size (R) (mm)", Label: "Avg. Follicle Size (R) (mm)", Section: sectionHCG, Unit: "mm", Min: 0, Max: 30, Default: 7.5},
	{Name: "Endometrium (mm)", Label: "Endometrium (mm)", Section: sectionHCG, Unit: "mm", Min: 0, Max: 20, Default: 6},
}

// Fields returns the form catalog in display order.
func Fields() []Field {
	return append([]Field(nil), fields...)
}

// Lookup returns the field with the given dataset name.
func Lookup(name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Defaults returns the initial value of every entered field, with derived
// fields computed from them.
func Defaults() map[string]float64 {
	values := make(map[string]float64, len(fields))
	for _, f := range fields {
		if !f.Derived {
			values[f.Name] = f.Default
		}
	}
	return Derive(values)
}

// Midpoint sets every numeric field to the middle of its valid range and
// every yes/no field to 0, then derives the ratios.
func Midpoint() map[string]float64 {
	values := make(map[string]float64, len(fields))
	for _, f := range fields {
		switch {
		case f.Derived:
		case f.Boolean:
			values[f.Name] = 0
		default:
			values[f.Name] = (f.Min + f.Max) / 2
		}
	}
	return Derive(values)
}

// Violation is a value outside its field's range.
type Violation struct {
	Field string  `json:"field"`
	Value float64 `json:"value"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s=%g outside [%g, %g]", v.Field, v.Value, v.Min, v.Max)
}

// Validate reports entered values that fall outside the catalog ranges.
// Unknown and derived fields are not checked.
func Validate(values map[string]float64) []Violation {
	var out []Violation
	for name, v := range values {
		f, ok := Lookup(name)
		if !ok || f.Derived {
			continue
		}
		if v < f.Min || v > f.Max {
			out = append(out, Violation{Field: name, Value: v, Min: f.Min, Max: f.Max})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
