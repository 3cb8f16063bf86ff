package connection

import "encoding/xml"

const bulkNamespace = "http://www.force.com/2009/06/asyncapi/dataload"

// jobInfo is the Bulk API job resource. Only the fields tranche reads or
// writes are mapped.
type jobInfo struct {
	XMLName                xml.Name `xml:"jobInfo"`
	Xmlns                  string   `xml:"xmlns,attr,omitempty"`
	ID                     string   `xml:"id,omitempty"`
	Operation              string   `xml:"operation,omitempty"`
	Object                 string   `xml:"object,omitempty"`
	State                  string   `xml:"state,omitempty"`
	ContentType            string   `xml:"contentType,omitempty"`
	NumberBatchesCompleted int      `xml:"numberBatchesCompleted,omitempty"`
	NumberBatchesTotal     int      `xml:"numberBatchesTotal,omitempty"`
	NumberBatchesFailed    int      `xml:"numberBatchesFailed,omitempty"`
	NumberRecordsFailed    int      `xml:"numberRecordsFailed,omitempty"`
}

// batchInfo is the Bulk API batch resource.
type batchInfo struct {
	XMLName      xml.Name `xml:"batchInfo"`
	ID           string   `xml:"id"`
	JobID        string   `xml:"jobId"`
	State        string   `xml:"state"`
	StateMessage string   `xml:"stateMessage"`
}

// resultList lists the result IDs of a finished query batch.
type resultList struct {
	XMLName xml.Name `xml:"result-list"`
	Results []string `xml:"result"`
}

// bulkError is the Bulk API error body.
type bulkError struct {
	XMLName          xml.Name `xml:"error"`
	ExceptionCode    string   `xml:"exceptionCode"`
	ExceptionMessage string   `xml:"exceptionMessage"`
}

// restError is one element of a REST API JSON error array.
type restError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// describeResult is the subset of the sobject describe response tranche reads.
type describeResult struct {
	Fields []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// queryResult is the subset of a REST query response tranche reads.
type queryResult struct {
	TotalSize int              `json:"totalSize"`
	Records   []map[string]any `json:"records"`
}
