package resume

// StructuredResume is the canonical machine-readable form of a user's
// base resume, produced once per distinct resume text and cached.
type StructuredResume struct {
	Summary        string            `json:"summary"`
	Skills         []string          `json:"skills"`
	Experience     []ExperienceEntry `json:"experience"`
	Education      []EducationEntry  `json:"education,omitempty"`
	Languages      []string          `json:"languages,omitempty"`
	Certifications []string          `json:"certifications,omitempty"`
}

// ExperienceEntry is a single position in the work history.
type ExperienceEntry struct {
	Title      string   `json:"title"`
	Company    string   `json:"company"`
	StartDate  string   `json:"start_date,omitempty"`
	EndDate    string   `json:"end_date,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
}

// EducationEntry is a single degree or program.
type EducationEntry struct {
	Institution    string `json:"institution"`
	Degree         string `json:"degree,omitempty"`
	Field          string `json:"field,omitempty"`
	GraduationYear string `json:"graduation_year,omitempty"`
}
