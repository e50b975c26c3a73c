package aircraftinfo

import "strings"

// typeMappings folds technical type designations into display names.
// Keyed by substring of the raw type field.
var typeMappings = []struct {
	key  string
	name string
}{
	// Boeing
	{"737", "Boeing 737"},
	{"747", "Boeing 747 Jumbo Jet"},
	{"757", "Boeing 757"},
	{"767", "Boeing 767"},
	{"777", "Boeing 777"},
	{"787", "Boeing 787 Dreamliner"},
	// Airbus
	{"A319", "Airbus A319"},
	{"A320", "Airbus A320"},
	{"A321", "Airbus A321"},
	{"A330", "Airbus A330"},
	{"A340", "Airbus A340"},
	{"A350", "Airbus A350"},
	{"A380", "Airbus A380 Super Jumbo"},
	// Embraer
	{"E170", "Embraer E170"},
	{"E175", "Embraer E175"},
	{"E190", "Embraer E190"},
	{"E195", "Embraer E195"},
	{"ERJ", "Embraer Regional Jet"},
	// Bombardier
	{"CRJ", "Bombardier CRJ"},
	{"Q400", "Bombardier Dash 8"},
	{"DHC-8", "Bombardier Dash 8"},
	// ATR
	{"ATR 42", "ATR 42 Propeller"},
	{"ATR 72", "ATR 72 Propeller"},
	// Others
	{"Cessna", "Cessna Small Plane"},
	{"Beechcraft", "Beechcraft Small Plane"},
	{"Gulfstream", "Gulfstream Private Jet"},
	{"Learjet", "Learjet"},
	{"Citation", "Cessna Citation Jet"},
}

// gaManufacturers are general aviation makers shown as "Small Plane".
var gaManufacturers = []string{"cessna", "piper", "beechcraft", "cirrus"}

// SimplifyType converts a technical type designation into a friendly
// display name: ("Boeing", "737-8K5") becomes "Boeing 737".
func SimplifyType(manufacturer, typeName string) string {
	manufacturer = strings.TrimSpace(manufacturer)
	typeName = strings.TrimSpace(typeName)

	for _, m := range typeMappings {
		if strings.Contains(typeName, m.key) {
			return m.name
		}
	}

	if manufacturer != "" && typeName != "" {
		lower := strings.ToLower(manufacturer)
		for _, ga := range gaManufacturers {
			if strings.Contains(lower, ga) {
				return manufacturer + " Small Plane"
			}
		}
		return manufacturer + " " + typeName
	}

	if typeName != "" {
		return typeName
	}
	return "Unknown Aircraft"
}
