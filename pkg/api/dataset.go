package api

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Dataset is a DICOM+JSON dataset: attribute tags in 8-hex-digit group/
// element form mapped to {"vr": ..., "Value": [...]} objects. The server
// treats the payload as opaque except for the handful of tags below
type Dataset = json.RawMessage

// Attribute tags the server reads or rewrites. Everything else in a
// dataset passes through untouched
const (
	TagSOPClassUID             = "00080016"
	TagSOPInstanceUID          = "00080018"
	TagTransactionUID          = "00081195"
	TagScheduledStationAETitle = "00400001"
	TagScheduledStartDateTime  = "00404005"
	TagInputReadinessState     = "00404041"
	TagProcedureStepState      = "00741000"
	TagProgressInformationSeq  = "00741002"
	TagProcedureStepProgress   = "00741004"
	TagProgressDescription     = "00741006"
	TagProcedureStepLabel      = "00741204"
	TagReasonForCancellation   = "00741238"
)

// UnifiedProcedureStepPushSOPClassUID identifies the UPS Push SOP class
const UnifiedProcedureStepPushSOPClassUID = "1.2.840.10008.5.1.4.34.6.1"

// DatasetString extracts the first value of a tag as a string, or ""
// when the tag is absent or empty
func DatasetString(ds Dataset, tag string) string {
	res := gjson.GetBytes(ds, tag+".Value.0")
	if !res.Exists() {
		return ""
	}
	return res.String()
}

// DatasetInt extracts the first value of a tag as an integer
func DatasetInt(ds Dataset, tag string) (int64, bool) {
	res := gjson.GetBytes(ds, tag+".Value.0")
	if !res.Exists() {
		return 0, false
	}
	return res.Int(), true
}

// DatasetHas reports whether the tag is present in the dataset
func DatasetHas(ds Dataset, tag string) bool {
	return gjson.GetBytes(ds, tag).Exists()
}

// SetDatasetString returns a copy of the dataset with the tag set to a
// single string value with the given VR
func SetDatasetString(ds Dataset, tag, vr, value string) (Dataset, error) {
	attrs, err := datasetMap(ds)
	if err != nil {
		return nil, err
	}
	attr, err := json.Marshal(map[string]any{
		"vr":    vr,
		"Value": []any{value},
	})
	if err != nil {
		return nil, err
	}
	attrs[tag] = attr
	return json.Marshal(attrs)
}

// DeleteDatasetTag returns a copy of the dataset with the tag removed
func DeleteDatasetTag(ds Dataset, tag string) (Dataset, error) {
	attrs, err := datasetMap(ds)
	if err != nil {
		return nil, err
	}
	delete(attrs, tag)
	return json.Marshal(attrs)
}

// MergeDataset overlays the attributes of patch onto base, replacing
// whole attributes at the top level
func MergeDataset(base, patch Dataset) (Dataset, error) {
	merged, err := datasetMap(base)
	if err != nil {
		return nil, err
	}
	over, err := datasetMap(patch)
	if err != nil {
		return nil, err
	}
	for tag, attr := range over {
		merged[tag] = attr
	}
	return json.Marshal(merged)
}

func datasetMap(ds Dataset) (map[string]json.RawMessage, error) {
	attrs := map[string]json.RawMessage{}
	if len(ds) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(ds, &attrs); err != nil {
		return nil, fmt.Errorf("malformed dataset: %w", err)
	}
	return attrs, nil
}
