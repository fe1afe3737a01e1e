package paper

// Category is a popular arXiv category offered in the category browser.
type Category struct {
	Code        string
	Description string
	Group       string
}

var popularCategories = []Category{
	{"cs.AI", "Artificial Intelligence", "Computer Science"},
	{"cs.LG", "Machine Learning", "Computer Science"},
	{"cs.CV", "Computer Vision and Pattern Recognition", "Computer Science"},
	{"cs.CL", "Computation and Language (NLP)", "Computer Science"},
	{"cs.RO", "Robotics", "Computer Science"},
	{"cs.CR", "Cryptography and Security", "Computer Science"},
	{"cs.DS", "Data Structures and Algorithms", "Computer Science"},
	{"cs.SE", "Software Engineering", "Computer Science"},
	{"cs.DB", "Databases", "Computer Science"},
	{"cs.NE", "Neural and Evolutionary Computing", "Computer Science"},

	{"astro-ph", "Astrophysics", "Physics"},
	{"cond-mat", "Condensed Matter", "Physics"},
	{"gr-qc", "General Relativity and Quantum Cosmology", "Physics"},
	{"hep-ex", "High Energy Physics - Experiment", "Physics"},
	{"hep-lat", "High Energy Physics - Lattice", "Physics"},
	{"hep-ph", "High Energy Physics - Phenomenology", "Physics"},
	{"hep-th", "High Energy Physics - Theory", "Physics"},
	{"math-ph", "Mathematical Physics", "Physics"},
	{"nlin.CD", "Nonlinear Sciences - Chaotic Dynamics", "Physics"},
	{"nucl-ex", "Nuclear Experiment", "Physics"},
	{"nucl-th", "Nuclear Theory", "Physics"},
	{"physics.optics", "Physics - Optics", "Physics"},
	{"quant-ph", "Quantum Physics", "Physics"},

	{"math.AC", "Mathematics - Commutative Algebra", "Mathematics"},
	{"math.AP", "Mathematics - Analysis of PDEs", "Mathematics"},
	{"math.CO", "Mathematics - Combinatorics", "Mathematics"},
	{"math.DS", "Mathematics - Dynamical Systems", "Mathematics"},
	{"math.IT", "Mathematics - Information Theory", "Mathematics"},
	{"math.NT", "Mathematics - Number Theory", "Mathematics"},
	{"math.OC", "Mathematics - Optimization and Control", "Mathematics"},
	{"math.PR", "Mathematics - Probability", "Mathematics"},
	{"math.ST", "Mathematics - Statistics Theory", "Mathematics"},

	{"q-bio.BM", "Quantitative Biology - Biomolecules", "Quantitative Biology"},
	{"q-bio.GN", "Quantitative Biology - Genomics", "Quantitative Biology"},
	{"q-bio.MN", "Quantitative Biology - Molecular Networks", "Quantitative Biology"},
	{"q-bio.NC", "Quantitative Biology - Neurons and Cognition", "Quantitative Biology"},
	{"q-bio.PE", "Quantitative Biology - Populations and Evolution", "Quantitative Biology"},

	{"q-fin.CP", "Quantitative Finance - Computational Finance", "Quantitative Finance"},
	{"q-fin.EC", "Quantitative Finance - Economics", "Quantitative Finance"},
	{"q-fin.ST", "Quantitative Finance - Statistical Finance", "Quantitative Finance"},
	{"q-fin.TR", "Quantitative Finance - Trading and Market Microstructure", "Quantitative Finance"},

	{"stat.AP", "Statistics - Applications", "Statistics"},
	{"stat.CO", "Statistics - Computation", "Statistics"},
	{"stat.ME", "Statistics - Methodology", "Statistics"},
	{"stat.ML", "Statistics - Machine Learning", "Statistics"},
	{"stat.TH", "Statistics - Theory", "Statistics"},

	{"eess.AS", "Audio and Speech Processing", "Electrical Engineering and Systems Science"},
	{"eess.IV", "Image and Video Processing", "Electrical Engineering and Systems Science"},
	{"eess.SP", "Signal Processing", "Electrical Engineering and Systems Science"},

	{"econ.EM", "Econometrics", "Economics"},
	{"econ.GN", "General Economics", "Economics"},
	{"econ.TH", "Theoretical Economics", "Economics"},
}

var categoryIndex = func() map[string]Category {
	m := make(map[string]Category, len(popularCategories))
	for _, c := range popularCategories {
		m[c.Code] = c
	}
	return m
}()

// PopularCategories returns the browser list in display order.
func PopularCategories() []Category {
	return append([]Category(nil), popularCategories...)
}

// LookupCategory returns the popular category with the given code.
func LookupCategory(code string) (Category, bool) {
	c, ok := categoryIndex[code]
	return c, ok
}
