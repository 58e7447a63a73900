// File: internal/extract/schema.go
package extract

import "fmt"

// Variant selects which record schema a run captures. One variant is chosen
// at configuration time and applied to every row; the two pipelines share
// all parsing machinery.
type Variant int

const (
	// VariantMinimal captures the row as published on the post-wise results
	// table: name, party, ward, plus the affidavit PDF link.
	VariantMinimal Variant = iota
	// VariantExtended captures the full candidate detail layout, including
	// guardian, demographics, contact fields and both document columns.
	VariantExtended
)

// ParseVariant maps the config string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "minimal":
		return VariantMinimal, nil
	case "extended":
		return VariantExtended, nil
	default:
		return 0, fmt.Errorf("unknown schema variant %q", s)
	}
}

func (v Variant) String() string {
	if v == VariantExtended {
		return "extended"
	}
	return "minimal"
}

// Header returns the CSV header for the variant. Append order of every row
// must match this exactly; the sink enforces the width.
func (v Variant) Header() []string {
	if v == VariantExtended {
		return []string{
			"District", "Post",
			"NagarNikay", "WardNo", "ReservationStatus", "CandidateName",
			"GuardianName", "Gender", "Age", "Category", "Address", "MobileNo",
			"PhotoPath", "AffidavitPath",
		}
	}
	return []string{"District", "Post", "Name", "Party", "Ward", "PDF_URL"}
}

// MinCells is the smallest cell count a table row must have to be a data
// row. Shorter rows (headers, footers, colspan notices) are skipped, not
// errors.
func (v Variant) MinCells() int {
	if v == VariantExtended {
		return 12
	}
	return 4
}
