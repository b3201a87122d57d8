package detector

import (
	"context"
	"testing"

	"github.com/nullvoid-dev/nullvoid/internal/domain"
)

func detectOne(t *testing.T, d Detector, source string) []domain.Threat {
	t.Helper()
	threats, err := d.Detect(context.Background(), FileContext{Path: "index.js", Content: []byte(source)})
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	return threats
}

func TestPatternDetectorFlagsEval(t *testing.T) {
	pd := NewPatternDetector()
	threats := detectOne(t, pd, "const payload = data;\neval(payload);\n")
	if len(threats) == 0 {
		t.Fatal("expected eval() usage to be flagged")
	}
	if threats[0].Type != domain.ThreatDynamicCodeExec {
		t.Fatalf("expected dynamic code exec threat, got %s", threats[0].Type)
	}
	if threats[0].Location.StartLine != 2 {
		t.Fatalf("expected line 2, got %d", threats[0].Location.StartLine)
	}
}

func TestPatternDetectorFlagsSSHKeyRead(t *testing.T) {
	pd := NewPatternDetector()
	threats := detectOne(t, pd, `fs.readFileSync(os.homedir() + "/.ssh/id_rsa")`)
	if len(threats) == 0 {
		t.Fatal("expected ssh key read to be flagged")
	}
	if threats[0].Type != domain.ThreatCredentialHarvest {
		t.Fatalf("expected credential harvest threat, got %s", threats[0].Type)
	}
	if threats[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", threats[0].Severity)
	}
}

func TestPatternDetectorIgnoresSafePattern(t *testing.T) {
	pd := NewPatternDetector()
	threats := detectOne(t, pd, "eval(x); // nullvoid-ignore")
	if len(threats) != 0 {
		t.Fatalf("expected no threats when safe marker present, got %d", len(threats))
	}
}

func TestPatternDetectorCleanFileProducesNoThreats(t *testing.T) {
	pd := NewPatternDetector()
	threats := detectOne(t, pd, "function add(a, b) {\n  return a + b;\n}\nmodule.exports = { add };\n")
	if len(threats) != 0 {
		t.Fatalf("expected no threats, got %d", len(threats))
	}
}

func TestPatternDetectorMangledTrailingCode(t *testing.T) {
	pd := NewPatternDetector()
	threats := detectOne(t, pd, "module.exports = router;\nconst b3=I,c4=J,d5=K;")
	if len(threats) != 1 {
		t.Fatalf("expected exactly one threat, got %d", len(threats))
	}
	th := threats[0]
	if th.Type != domain.ThreatMaliciousCodeStructure {
		t.Fatalf("expected malicious code structure, got %s", th.Type)
	}
	if th.Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", th.Severity)
	}
	if th.Location.StartLine != 2 {
		t.Fatalf("expected line 2, got %d", th.Location.StartLine)
	}
	if got, want := th.Location.Snippet[:14], "... const b3=I"; got != want {
		t.Fatalf("snippet %q does not start with %q", th.Location.Snippet, want)
	}
	if th.Confidence < 0.7 {
		t.Fatalf("confidence %v below 0.7", th.Confidence)
	}
}

func TestPatternDetectorSkipsTestFiles(t *testing.T) {
	pd := NewPatternDetector()
	threats, err := pd.Detect(context.Background(), FileContext{
		Path:    "pkg/__tests__/exec.test.js",
		Content: []byte("eval(payload);\n"),
	})
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(threats) != 0 {
		t.Fatalf("expected test file to be skipped, got %d threats", len(threats))
	}
}

func TestPatternDetectorDowngradesConfigFiles(t *testing.T) {
	pd := NewPatternDetector()
	threats, err := pd.Detect(context.Background(), FileContext{
		Path:    "config.json",
		Content: []byte(`{"cmd": "child_process.execSync(x)"}`),
	})
	if err != nil {
		t.Fatalf("Detect returned error: %v", err)
	}
	if len(threats) == 0 {
		t.Fatal("expected a finding in the config file")
	}
	if threats[0].Severity != domain.SeverityLow {
		t.Fatalf("expected medium severity downgraded to low, got %s", threats[0].Severity)
	}
}

func TestPatternDetectorConfidenceScalesWithMatches(t *testing.T) {
	pd := NewPatternDetector()
	one := detectOne(t, pd, "eval(a);\n")
	three := detectOne(t, pd, "eval(a);\neval(b);\neval(c);\n")
	if len(one) == 0 || len(three) == 0 {
		t.Fatal("expected findings in both inputs")
	}
	if !(three[0].Confidence > one[0].Confidence) {
		t.Fatalf("confidence should grow with match count: %v vs %v", one[0].Confidence, three[0].Confidence)
	}
	for _, th := range three {
		if th.Confidence > 0.95 {
			t.Fatalf("confidence %v exceeds 0.95 cap", th.Confidence)
		}
	}
}

const cleanReactComponent = `import React, { useState, useEffect } from 'react';

export default function UserBadge({ user }) {
  const [count, setCount] = useState(0);
  useEffect(() => {
    setCount(user.visits);
  }, [user]);
  return (
    <div className="badge">
      <span className="badge-name">{user.name}</span>
      <span className="badge-count">{count}</span>
    </div>
  );
}
`

func TestReactComponentNeutralizesObfuscationFamilies(t *testing.T) {
	pipeline := NewPipeline(domain.DetectorConfig{
		EnablePattern:    true,
		EnableEntropy:    true,
		EntropyThreshold: 4.5,
	}, nil, nil)

	threats, err := pipeline.Run(context.Background(), FileContext{
		Path:    "src/UserBadge.jsx",
		Content: []byte(cleanReactComponent),
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, th := range threats {
		if th.Type == domain.ThreatObfuscatedCode || th.Type == domain.ThreatHighEntropyBlob {
			t.Fatalf("react component should not produce %s findings", th.Type)
		}
	}
}
