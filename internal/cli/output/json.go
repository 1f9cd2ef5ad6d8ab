package output

import "encoding/json"

// JSONFormatter emits machine-readable JSON, one document per call.
type JSONFormatter struct {
	Indent bool // Whether to pretty-print with indentation
}

func (f *JSONFormatter) marshal(v interface{}) (string, error) {
	var out []byte
	var err error
	if f.Indent {
		out, err = json.MarshalIndent(v, "", "  ")
	} else {
		out, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Format marshals data to JSON.
func (f *JSONFormatter) Format(data interface{}) (string, error) {
	return f.marshal(data)
}

// FormatError marshals a structured error to JSON.
func (f *JSONFormatter) FormatError(serr StructuredError) (string, error) {
	return f.marshal(serr)
}

// FormatTable converts rows to an array of header-keyed objects, so
// scripted consumers get the same fields the table view shows.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	docs := make([]map[string]string, len(rows))
	for i, row := range rows {
		doc := make(map[string]string, len(headers))
		for j, header := range headers {
			value := ""
			if j < len(row) {
				value = row[j]
			}
			doc[header] = value
		}
		docs[i] = doc
	}
	return f.marshal(docs)
}
