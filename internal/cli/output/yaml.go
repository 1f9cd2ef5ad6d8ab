package output

import "gopkg.in/yaml.v3"

// YAMLFormatter emits YAML documents.
type YAMLFormatter struct{}

// Format marshals data to YAML.
func (f *YAMLFormatter) Format(data interface{}) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// FormatError marshals a structured error to YAML.
func (f *YAMLFormatter) FormatError(serr StructuredError) (string, error) {
	return f.Format(serr)
}

// FormatTable converts rows to a YAML sequence of header-keyed maps.
func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
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
	return f.Format(docs)
}
