package rules

import (
	"fmt"
	"regexp"

	"github.com/joescharf/prguard/internal/models"
)

// Detector is a single line predicate with the finding it produces.
type Detector struct {
	ID          string
	Pattern     *regexp.Regexp
	Severity    models.Severity
	Explanation string
}

// Matches reports whether the detector fires on the given line.
func (d Detector) Matches(line string) bool {
	return d.Pattern.MatchString(line)
}

// CategoryRules is the ordered detector list owned by one category.
type CategoryRules struct {
	Category  models.Category
	Detectors []Detector
}

// Catalog is the ordered set of categories evaluated by an Engine.
// Registration order determines output order.
type Catalog []CategoryRules

// Size returns the total number of detectors.
func (c Catalog) Size() int {
	n := 0
	for _, cr := range c {
		n += len(cr.Detectors)
	}
	return n
}

// group compiles patterns that share an id prefix, severity and explanation.
// A pattern prefixed with (?i) is matched case-insensitively.
func group(idPrefix string, sev models.Severity, explanation string, patterns ...string) []Detector {
	out := make([]Detector, 0, len(patterns))
	for i, p := range patterns {
		out = append(out, Detector{
			ID:          fmt.Sprintf("%s-%d", idPrefix, i+1),
			Pattern:     regexp.MustCompile(p),
			Severity:    sev,
			Explanation: explanation,
		})
	}
	return out
}

func concat(groups ...[]Detector) []Detector {
	var out []Detector
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultCatalog returns the built-in detector catalog: the OWASP Top 10
// for LLM applications followed by general credential and import checks.
func DefaultCatalog() Catalog {
	return Catalog{
		{
			Category: models.CategoryPromptInjection,
			Detectors: concat(
				group("LLM01-template", models.SeverityHigh,
					"LLM01: Potential prompt injection vector - template pattern may allow user input manipulation",
					`\{\{.*\}\}`,
					`\$\{.*\}`,
					`<[A-Za-z_]\w*>`,
					`\[\[.*\]\]`,
				),
				group("LLM01-concat", models.SeverityHigh,
					"LLM01: Direct user input concatenation in prompt - vulnerable to injection attacks",
					`(?i)["'].*\+.*user.*["']`,
					`(?i)["'].*\+.*input.*["']`,
					`(?i)["'].*\+.*request.*["']`,
					`(?i)f["'].*\{.*user.*\}.*["']`,
				),
				group("LLM01-system", models.SeverityCritical,
					"LLM01: System prompt modification with user input - critical injection risk",
					`(?i)system.*=.*\+`,
					`(?i)role.*["']system["'].*\+`,
					`(?i)prompt.*=.*user`,
				),
			),
		},
		{
			Category: models.CategoryInsecureOutput,
			Detectors: concat(
				group("LLM02-exec", models.SeverityCritical,
					"LLM02: Direct execution of LLM output - extreme code injection risk",
					`(?i)exec\s*\(\s*.*response.*\)`,
					`(?i)eval\s*\(\s*.*response.*\)`,
					`(?i)exec\s*\(\s*.*output.*\)`,
					`(?i)eval\s*\(\s*.*output.*\)`,
					`(?i)subprocess.*\(.*response.*\)`,
					`(?i)os\.system\s*\(\s*.*response.*\)`,
				),
				group("LLM02-deserialize", models.SeverityHigh,
					"LLM02: Unsafe deserialization of LLM output - potential remote code execution",
					`(?i)pickle\.loads\s*\(\s*.*response.*\)`,
					`(?i)json\.loads\s*\(\s*.*response.*\)`,
					`(?i)yaml\.load\s*\(\s*.*response.*\)`,
					`(?i)marshal\.loads\s*\(\s*.*response.*\)`,
				),
				group("LLM02-sql", models.SeverityHigh,
					"LLM02: SQL query construction with LLM output - SQL injection risk",
					`(?i)execute\s*\(\s*.*response.*\)`,
					`(?i)query\s*=.*response`,
					`(?i)SELECT.*\+.*response`,
					`(?i)INSERT.*\+.*response`,
					`(?i)UPDATE.*\+.*response`,
					`(?i)DELETE.*\+.*response`,
				),
				group("LLM02-file", models.SeverityMedium,
					"LLM02: File operations with LLM output - path traversal risk",
					`(?i)open\s*\(\s*.*response.*\)`,
					`(?i)write\s*\(\s*.*response.*\)`,
					`(?i)os\.path\.join\s*\(\s*.*response.*\)`,
					`(?i)pathlib.*\(.*response.*\)`,
				),
			),
		},
		{
			Category: models.CategoryPromptLeakage,
			Detectors: concat(
				group("LLM03-exposure", models.SeverityHigh,
					"LLM03: System prompt exposure detected - may leak internal instructions to users",
					`(?i)print\s*\(\s*.*system.*prompt.*\)`,
					`(?i)log.*\(\s*.*system.*prompt.*\)`,
					`(?i)console\.log\s*\(\s*.*system.*prompt.*\)`,
					`(?i)print\s*\(\s*.*internal.*instruction.*\)`,
					`(?i)print\s*\(\s*.*you\s+are\s+a.*\)`,
				),
				group("LLM03-debug", models.SeverityMedium,
					"LLM03: Debug output may expose prompts - ensure production debug is disabled",
					`(?i)debug.*prompt`,
					`(?i)trace.*prompt`,
					`(?i)verbose.*system`,
					`(?i)dump.*prompt`,
				),
			),
		},
		{
			Category: models.CategoryUnsafeExecution,
			Detectors: concat(
				group("LLM04-system", models.SeverityCritical,
					"LLM04: Direct system command execution - high risk for DoS and RCE attacks",
					`subprocess\.call\s*\(`,
					`subprocess\.run\s*\(`,
					`subprocess\.Popen\s*\(`,
					`os\.system\s*\(`,
					`os\.popen\s*\(`,
					`os\.spawn\w+\s*\(`,
					`commands\.getoutput\s*\(`,
					`exec\.Command(Context)?\s*\(`,
				),
				group("LLM04-dynamic", models.SeverityCritical,
					"LLM04: Dynamic code execution detected - vulnerable to injection and DoS",
					`\beval\s*\(`,
					`\bexec\s*\(`,
					`\bcompile\s*\(`,
					`__import__\s*\(`,
					`globals\s*\(\)`,
					`locals\s*\(\)`,
				),
				group("LLM04-resource", models.SeverityMedium,
					"LLM04: Resource-intensive operation - potential DoS vector if user-controlled",
					`while\s+True\s*:`,
					`for\s+\w+\s+in\s+range\s*\(\s*\d{6,}\s*\)`,
					`time\.sleep\s*\(\s*\d{3,}\s*\)`,
					`threading\.Thread\s*\(`,
					`multiprocessing\.`,
					`asyncio\.create_task\s*\(`,
				),
			),
		},
		{
			Category: models.CategoryAuthzBypass,
			Detectors: concat(
				group("LLM05-authz", models.SeverityHigh,
					"LLM05: Authorization bypass attempt detected - hardcoded admin privileges",
					`(?i)role\s*=\s*["']admin["']`,
					`(?i)role\s*=\s*["']root["']`,
					`(?i)is_admin\s*=\s*True`,
					`(?i)bypass.*auth`,
					`(?i)skip.*permission`,
					`(?i)ignore.*role`,
					`(?i)override.*access`,
				),
				group("LLM05-supply", models.SeverityMedium,
					"LLM05: Supply chain vulnerability - unsafe import or dynamic dependency loading",
					`(?i)from\s+\w+\s+import\s+\*`,
					`(?i)__import__\s*\(\s*["'][^"']*["'].*\)`,
					`(?i)importlib\.import_module\s*\(`,
					`(?i)pip\.main\s*\(`,
					`(?i)subprocess.*pip\s+install`,
				),
			),
		},
		{
			Category: models.CategoryDataExposure,
			Detectors: concat(
				group("LLM06-exfil", models.SeverityHigh,
					"LLM06: Potential data exfiltration - external POST request with data",
					`(?i)requests\.post\s*\(\s*["']http[^"']*["'].*data`,
					`(?i)urllib\.request.*urlopen.*data`,
					`(?i)curl.*--data`,
					`(?i)wget.*--post-data`,
				),
				group("LLM06-logs", models.SeverityHigh,
					"LLM06: Sensitive data exposure in logs - potential information disclosure",
					`(?i)log.*password`,
					`(?i)print.*password`,
					`(?i)console\.log.*password`,
					`(?i)log.*secret`,
					`(?i)print.*token`,
					`(?i)log.*api.*key`,
				),
			),
		},
		{
			Category: models.CategoryPluginAbuse,
			Detectors: concat(
				group("LLM07-exhaustion", models.SeverityHigh,
					"LLM07: Resource exhaustion vulnerability - potential DoS via CPU/time consumption",
					`while\s+True\s*:`,
					`for\s+\w+\s+in\s+range\s*\(\s*(?:\d{7,}|\w+\s*\*\s*\w+)\s*\)`,
					`time\.sleep\s*\(\s*(?:\d{4,}|\w+\s*\*\s*\w+)\s*\)`,
				),
				group("LLM07-plugin", models.SeverityCritical,
					"LLM07: Insecure plugin loading - dynamic code execution with user input",
					`(?i)importlib\.import_module\s*\(\s*.*user.*\)`,
					`(?i)__import__\s*\(\s*.*input.*\)`,
					`(?i)exec\s*\(\s*.*plugin.*\)`,
					`(?i)eval\s*\(\s*.*plugin.*\)`,
				),
			),
		},
		{
			Category: models.CategoryExcessiveAgency,
			Detectors: concat(
				group("LLM08-system", models.SeverityCritical,
					"LLM08: Excessive agency - AI agent granted unrestricted system access",
					`(?i)agent.*\.execute_system_command`,
					`(?i)ai.*\.run_shell_command`,
					`(?i)bot.*\.system\s*\(`,
					`(?i)llm.*\.exec\s*\(`,
					`(?i)agent.*permissions.*=.*\[\s*["'].*\*.*["']`,
					`(?i)ai.*\.sudo\s*\(`,
					`(?i)agent.*root.*access`,
				),
				group("LLM08-financial", models.SeverityCritical,
					"LLM08: Excessive agency - AI agent has financial transaction capabilities",
					`(?i)agent.*\.transfer_money`,
					`(?i)ai.*\.make_payment`,
					`(?i)bot.*\.purchase`,
					`(?i)llm.*\.buy\s*\(`,
					`(?i)agent.*\.credit_card`,
					`(?i)ai.*\.bank_transfer`,
				),
			),
		},
		{
			Category: models.CategoryOverreliance,
			Detectors: concat(
				group("LLM09-auto", models.SeverityCritical,
					"LLM09: Overreliance - automatic execution of AI output without human validation",
					`(?i)auto_execute\s*\(\s*ai_response\s*\)`,
					`(?i)immediate_action\s*\(\s*llm_output\s*\)`,
					`(?i)execute_without_review\s*\(`,
					`(?i)auto_approve\s*\(\s*ai.*\)`,
					`(?i)bypass_human_review`,
					`(?i)skip_validation.*ai`,
				),
				group("LLM09-decision", models.SeverityCritical,
					"LLM09: Overreliance - critical decisions made solely based on AI output",
					`(?i)if\s+ai_says.*:\s*delete`,
					`(?i)if\s+llm_recommends.*:\s*approve`,
					`(?i)medical_diagnosis\s*=\s*ai_response`,
					`(?i)financial_decision\s*=\s*llm_output`,
					`(?i)autonomous_mode\s*=\s*True`,
					`(?i)human_oversight\s*=\s*False`,
				),
			),
		},
		{
			Category: models.CategoryModelTheft,
			Detectors: concat(
				group("LLM10-probe", models.SeverityHigh,
					"LLM10: Model theft - attempt to probe model architecture or extract parameters",
					`(?i)model\.layers\.`,
					`(?i)get_model_architecture`,
					`(?i)extract_weights`,
					`(?i)model\.parameters\(\)`,
					`(?i)model_size\s*\(`,
					`(?i)hidden_layers.*count`,
					`(?i)model\.config\.`,
				),
				group("LLM10-training", models.SeverityCritical,
					"LLM10: Model theft - attempt to extract training data from model",
					`(?i)extract_training_data`,
					`(?i)get_training_examples`,
					`(?i)memorized_data`,
					`(?i)training_set_leak`,
					`(?i)dataset_extraction`,
				),
				group("LLM10-copy", models.SeverityCritical,
					"LLM10: Model theft - attempt to distill or copy model behavior",
					`(?i)distill_model`,
					`(?i)copy_model_behavior`,
					`(?i)clone_model`,
					`(?i)replicate_model`,
					`(?i)model_mimicry`,
				),
			),
		},
		{
			Category: models.CategoryCredentialExposure,
			Detectors: []Detector{
				secret("SEC-password", `(?i)password\s*[:=]+\s*["'][^"']+["']`, "Hardcoded password detected"),
				secret("SEC-api-key", `(?i)api_?key\s*[:=]+\s*["'][^"']+["']`, "Hardcoded API key detected"),
				secret("SEC-secret", `(?i)secret\s*[:=]+\s*["'][^"']+["']`, "Hardcoded secret detected"),
				secret("SEC-token", `(?i)token\s*[:=]+\s*["'][^"']+["']`, "Hardcoded token detected"),
				secret("SEC-openai-key", `sk-[a-zA-Z0-9]{32,}`, "OpenAI API key detected"),
				secret("SEC-aws-key", `AKIA[0-9A-Z]{16}`, "AWS access key ID detected"),
				secret("SEC-github-token", `gh[pousr]_[A-Za-z0-9]{36,}`, "GitHub token detected"),
			},
		},
		{
			Category: models.CategoryDangerousImport,
			Detectors: concat(
				group("SEC-import-pickle", models.SeverityMedium,
					"Security: Pickle module can execute arbitrary code",
					`import\s+pickle`,
					`from\s+pickle\s+import`,
				),
				group("SEC-import-marshal", models.SeverityMedium,
					"Security: Marshal module can execute arbitrary code",
					`import\s+marshal`,
				),
				group("SEC-import-unsafe", models.SeverityMedium,
					"Security: unsafe package bypasses Go memory safety",
					`^import\s+"unsafe"`,
					`^"unsafe"$`,
				),
			),
		},
	}
}

func secret(id, pattern, what string) Detector {
	return Detector{
		ID:          id,
		Pattern:     regexp.MustCompile(pattern),
		Severity:    models.SeverityCritical,
		Explanation: "Security: " + what + " - use environment variables instead",
	}
}
