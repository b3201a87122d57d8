package detector

import (
	"regexp"
	"strings"
)

// Family identifies one group of related patterns in the catalogue. A
// legitimacy filter neutralizes specific families for a file, never the
// whole pipeline, so e.g. recognizing shader code still leaves the
// wallet-hijacking family active.
type Family string

const (
	FamilyVariableMangling Family = "variable_mangling"
	FamilyHexArrays        Family = "hex_base64_arrays"
	FamilyDynamicRequire   Family = "dynamic_require"
	FamilyWalletHijacking  Family = "wallet_hijacking"
	FamilyNetwork          Family = "network_manipulation"
	FamilyFilesystem       Family = "filesystem_manipulation"
	FamilyCrypto           Family = "crypto_manipulation"
	FamilyAntiAnalysis     Family = "anti_analysis"
	FamilyExfiltration     Family = "data_exfiltration"

	// FamilyEntropy is not a pattern family; it exists so content filters
	// can neutralize entropy findings for code classes that legitimately
	// run hot (JSX trees, shader sources, dense test fixtures).
	FamilyEntropy Family = "high_entropy"
)

// contentFilter recognizes a class of legitimate code by counting
// indicator matches. When the count reaches MinCount the filter accepts
// and its Neutralizes families are skipped for the file.
type contentFilter struct {
	Name        string
	Indicators  []*regexp.Regexp
	MinCount    int
	Neutralizes []Family
}

func mustAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

var contentFilters = []contentFilter{
	{
		Name: "utility-math",
		Indicators: mustAll(
			`\bMath\.(floor|ceil|round|abs|min|max|pow|sqrt)\b`,
			`\bparseFloat\s*\(`,
			`\bparseInt\s*\(`,
			`\btoFixed\s*\(`,
			`\bNumber\.(isInteger|isFinite|EPSILON)\b`,
		),
		MinCount:    3,
		Neutralizes: []Family{FamilyVariableMangling, FamilyHexArrays},
	},
	{
		Name: "server-socket",
		Indicators: mustAll(
			`\bhttp\.createServer\s*\(`,
			`\blisten\s*\(\s*(port|\d{2,5})`,
			`\bapp\.(get|post|put|delete|use)\s*\(`,
			`\bsocket\.(on|emit)\s*\(`,
			`\bres\.(send|json|status)\s*\(`,
			`\breq\.(params|query|body)\b`,
		),
		MinCount:    3,
		Neutralizes: []Family{FamilyNetwork, FamilyExfiltration},
	},
	{
		Name: "test-code",
		Indicators: mustAll(
			`\b(describe|it|test)\s*\(\s*['"]`,
			`\bexpect\s*\(`,
			`\b(beforeEach|afterEach|beforeAll|afterAll)\s*\(`,
			`\bjest\.(mock|fn|spyOn)\s*\(`,
			`\bassert\.(equal|deepEqual|strictEqual|ok)\s*\(`,
			`\bsinon\.(stub|spy|mock)\s*\(`,
		),
		MinCount: 3,
		Neutralizes: []Family{
			FamilyVariableMangling, FamilyHexArrays, FamilyDynamicRequire,
			FamilyNetwork, FamilyFilesystem, FamilyAntiAnalysis, FamilyExfiltration,
			FamilyEntropy,
		},
	},
	{
		Name: "web-framework-view",
		Indicators: mustAll(
			`\brender\s*\(`,
			`\bres\.render\s*\(`,
			`\btemplate\s*[:=]`,
			`\b(ejs|pug|handlebars|nunjucks)\b`,
			`<%[-=]?`,
			`\{\{[^}]+\}\}`,
		),
		MinCount:    3,
		Neutralizes: []Family{FamilyVariableMangling, FamilyHexArrays},
	},
	{
		Name: "shader-webgl",
		Indicators: mustAll(
			`\bgl_(Position|FragColor|FragCoord)\b`,
			`\b(vec[234]|mat[234]|uniform|varying|attribute)\b`,
			`\bgl\.(createShader|shaderSource|compileShader|drawArrays)\s*\(`,
			`\bprecision\s+(high|medium|low)p\b`,
			`\bfragmentShader|vertexShader\b`,
		),
		MinCount:    3,
		Neutralizes: []Family{FamilyVariableMangling, FamilyHexArrays, FamilyCrypto, FamilyEntropy},
	},
	{
		Name: "react-jsx",
		Indicators: mustAll(
			`\bimport\s+(React|\{[^}]*\})\s+from\s+['"]react['"]`,
			`\buse(State|Effect|Memo|Callback|Ref|Context)\s*\(`,
			`\bexport\s+default\s+function\s+[A-Z]`,
			`return\s*\(\s*<[A-Za-z]`,
			`<\/[A-Z][\w]*>`,
			`\bclassName\s*=`,
		),
		MinCount:    2,
		Neutralizes: []Family{FamilyVariableMangling, FamilyHexArrays, FamilyAntiAnalysis, FamilyEntropy},
	},
	{
		Name: "blockchain-contract-constants",
		Indicators: mustAll(
			`\babi\s*[:=]\s*\[`,
			`\bbytecode\s*[:=]\s*['"]0x[0-9a-fA-F]{40,}`,
			`\bcontractAddress\s*[:=]`,
			`\b(chainId|gasLimit|gasPrice)\s*[:=]`,
			`\bkeccak256\b`,
		),
		MinCount:    3,
		Neutralizes: []Family{FamilyHexArrays, FamilyCrypto, FamilyWalletHijacking},
	},
}

// testFilePathMarkers mark files skipped globally, independent of content.
var testFilePathMarkers = []string{
	"/test/", "/tests/", "/__tests__/", "/spec/",
	".test.", ".spec.", "_test.",
}

// IsTestFilePath reports whether path points at test code, which is
// skipped by the pattern families entirely.
func IsTestFilePath(path string) bool {
	p := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	for _, marker := range testFilePathMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

// neutralizedFamilies runs every content filter over content and returns
// the union of families the accepting filters neutralize, plus the names
// of the filters that accepted (for threat metadata and logging).
func neutralizedFamilies(content string) (map[Family]bool, []string) {
	neutralized := make(map[Family]bool)
	var accepted []string
	for _, f := range contentFilters {
		count := 0
		for _, re := range f.Indicators {
			count += len(re.FindAllStringIndex(content, -1))
			if count >= f.MinCount {
				break
			}
		}
		if count >= f.MinCount {
			accepted = append(accepted, f.Name)
			for _, fam := range f.Neutralizes {
				neutralized[fam] = true
			}
		}
	}
	return neutralized, accepted
}
