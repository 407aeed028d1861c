package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/hp3245cal/pkg/cable"
	"github.com/charlie0129/hp3245cal/pkg/instrument"
)

// coax names the loop-back connection the functional test of each
// connector expects.
var coax = map[Channel]string{
	FrontA: "Front A-out Front A-trig",
	BackA:  "Back A-out Front A-trig",
	BackB:  "Back B-out Front B-trig",
	FrontB: "Front B-out Front B-trig",
}

// SelfTestResult is the answer of one FTEST.
type SelfTestResult struct {
	Channel Channel `json:"channel"`
	Result  string  `json:"result"`
}

// Passed reports whether the source answered with a pass message.
func (r SelfTestResult) Passed() bool {
	return strings.Contains(strings.ToUpper(r.Result), "PASS")
}

// SelfTest runs the functional test of every connector, asking the operator
// to loop it back first. Each answer is printed to out.
func SelfTest(dut instrument.SelfTester, c cable.Confirmer, out io.Writer) ([]SelfTestResult, error) {
	results := make([]SelfTestResult, 0, len(Channels))
	for _, ch := range Channels {
		if err := c.Confirm(fmt.Sprintf("COAX: %s, press ENTER", coax[ch])); err != nil {
			return results, err
		}

		res, err := dut.FTest(int(ch))
		if err != nil {
			return results, fmt.Errorf("functional test of %s: %w", ch, err)
		}
		r := SelfTestResult{Channel: ch, Result: strings.TrimSpace(res)}
		results = append(results, r)

		logrus.WithFields(logrus.Fields{
			"channel": int(ch),
			"result":  r.Result,
		}).Info("functional test")
		if _, err := fmt.Fprintln(out, r.Result); err != nil {
			return results, err
		}
	}
	return results, nil
}
