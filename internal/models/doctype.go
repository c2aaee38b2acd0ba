package models

// DocType is the closed set of document classifications the pipeline
// understands. Anything else maps to DocTypeUnknown.
type DocType string

const (
	DocTypeInvoice  DocType = "invoice"
	DocTypeReceipt  DocType = "receipt"
	DocTypeContract DocType = "contract"
	DocTypeReport   DocType = "report"
	DocTypeResume   DocType = "resume"
	DocTypeUnknown  DocType = "unknown"
)

// SupportedDocTypes lists the classifiable types, excluding unknown.
var SupportedDocTypes = []DocType{
	DocTypeInvoice,
	DocTypeReceipt,
	DocTypeContract,
	DocTypeReport,
	DocTypeResume,
}

// ParseDocType maps a classifier label onto the closed set. Labels
// outside the set collapse to unknown rather than erroring, so a model
// upgrade with extra labels cannot fail jobs.
func ParseDocType(label string) DocType {
	switch DocType(label) {
	case DocTypeInvoice, DocTypeReceipt, DocTypeContract, DocTypeReport, DocTypeResume:
		return DocType(label)
	default:
		return DocTypeUnknown
	}
}

// Supported reports whether d is a classifiable type with extraction assets.
func (d DocType) Supported() bool {
	for _, t := range SupportedDocTypes {
		if d == t {
			return true
		}
	}
	return false
}
