package models

// MaskingRule is a regex whose hide group gets blanked out.
type MaskingRule struct {
	RuleType  string `yaml:"rule_type" json:"rule_type"`
	RuleRegex string `yaml:"rule_regex" json:"rule_regex"`
	HideGroup int    `yaml:"hide_group" json:"hide_group"`
	RuleDesc  string `yaml:"rule_desc" json:"rule_desc,omitempty"`
}

// MaskingColumn binds one column of one instance to a rule type.
type MaskingColumn struct {
	RuleType     string `yaml:"rule_type" json:"rule_type"`
	Active       bool   `yaml:"active" json:"active"`
	InstanceName string `yaml:"instance" json:"instance"`
	TableSchema  string `yaml:"table_schema" json:"table_schema"`
	TableName    string `yaml:"table_name" json:"table_name"`
	ColumnName   string `yaml:"column_name" json:"column_name"`
	// Position is the ordinal of the column in its table; used when a star
	// select item is expanded.
	Position int `yaml:"position" json:"position,omitempty"`
}
