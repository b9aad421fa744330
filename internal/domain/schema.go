package domain

type FieldKind int

const (
	Int FieldKind = iota
	Float
)

func (k FieldKind) String() string {
	if k == Int {
		return "integer"
	}
	return "number"
}

type FieldSpec struct {
	Name string
	Kind FieldKind
}

type Schema struct {
	Domain Domain
	// Fields is the request shape in declaration order.
	Fields []FieldSpec
	// FeatureOrder is the training-time column order. Model artifacts carry
	// the same list and are rejected at load time if it differs.
	FeatureOrder []string
}

var diabetesSchema = Schema{
	Domain: Diabetes,
	Fields: []FieldSpec{
		{"Pregnancies", Int},
		{"Glucose", Float},
		{"BloodPressure", Int},
		{"SkinThickness", Int},
		{"Insulin", Float},
		{"BMI", Float},
		{"DiabetesPedigreeFunction", Float},
		{"Age", Int},
	},
	FeatureOrder: []string{
		"Pregnancies",
		"Glucose",
		"BloodPressure",
		"SkinThickness",
		"Insulin",
		"BMI",
		"DiabetesPedigreeFunction",
		"Age",
	},
}

var heartSchema = Schema{
	Domain: Heart,
	Fields: []FieldSpec{
		{"age", Int},
		{"sex", Int},
		{"cp", Int},
		{"trestbps", Int},
		{"chol", Int},
		{"fbs", Int},
		{"restecg", Int},
		{"thalch", Int},
		{"exang", Int},
		{"oldpeak", Float},
		{"slope", Int},
		{"ca", Int},
		{"thal", Int},
	},
}

func init() {
	// heart was trained on the dataframe columns as declared.
	for _, f := range heartSchema.Fields {
		heartSchema.FeatureOrder = append(heartSchema.FeatureOrder, f.Name)
	}
}

func SchemaFor(d Domain) (Schema, bool) {
	switch d {
	case Diabetes:
		return diabetesSchema, true
	case Heart:
		return heartSchema, true
	default:
		return Schema{}, false
	}
}

// FeatureOrder returns a copy of the training column order for d.
func FeatureOrder(d Domain) []string {
	s, ok := SchemaFor(d)
	if !ok {
		return nil
	}
	return append([]string(nil), s.FeatureOrder...)
}
