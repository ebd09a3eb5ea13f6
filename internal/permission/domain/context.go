package domain

import "time"

// RequestContext carries the attributes conditions are evaluated against.
// Attributes a request does not carry are left at their zero value; constraints
// that need them fail closed.
type RequestContext struct {
	Now           time.Time    `json:"now" yaml:"now"`
	IP            string       `json:"ip,omitempty" yaml:"ip,omitempty"`
	Geo           *GeoLocation `json:"geo,omitempty" yaml:"geo,omitempty"`
	UserAgent     string       `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Platform      string       `json:"platform,omitempty" yaml:"platform,omitempty"`
	AppVersion    string       `json:"appVersion,omitempty" yaml:"appVersion,omitempty"`
	MFAVerified   bool         `json:"mfaVerified,omitempty" yaml:"mfaVerified,omitempty"`
	SecurityLevel int          `json:"securityLevel,omitempty" yaml:"securityLevel,omitempty"`
	SessionID     string       `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	Profile       Profile      `json:"profile" yaml:"profile"`
	Data          *DataAccess  `json:"data,omitempty" yaml:"data,omitempty"`
}

// GeoLocation is the resolved origin of a request.
type GeoLocation struct {
	Country   string   `json:"country,omitempty" yaml:"country,omitempty"`
	Region    string   `json:"region,omitempty" yaml:"region,omitempty"`
	City      string   `json:"city,omitempty" yaml:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
}

// Profile holds the directory attributes business conditions compare against.
type Profile struct {
	Department      string   `json:"department,omitempty" yaml:"department,omitempty"`
	SeniorityMonths int      `json:"seniorityMonths,omitempty" yaml:"seniorityMonths,omitempty"`
	Roles           []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Certifications  []string `json:"certifications,omitempty" yaml:"certifications,omitempty"`
	Trainings       []string `json:"trainings,omitempty" yaml:"trainings,omitempty"`
}

// DataAccess describes the data a request reads or writes.
type DataAccess struct {
	Type        string      `json:"type,omitempty" yaml:"type,omitempty"`
	Sensitivity Sensitivity `json:"sensitivity,omitempty" yaml:"sensitivity,omitempty"`
	SizeBytes   int64       `json:"sizeBytes,omitempty" yaml:"sizeBytes,omitempty"`
	Fields      []string    `json:"fields,omitempty" yaml:"fields,omitempty"`
}
