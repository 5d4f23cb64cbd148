package capturegen

import (
	"time"

	"github.com/okian/strokeauth/internal/domain/comparison"
)

// ClassStats counts the decisions of one class of challenges.
type ClassStats struct {
	Total     int     `json:"total"`
	Accept    int     `json:"accept"`
	Review    int     `json:"review"`
	Reject    int     `json:"reject"`
	Errors    int     `json:"errors"`
	MeanScore float64 `json:"meanScore"`

	scoreSum float64
}

func (c *ClassStats) add(d decision) {
	c.Total++
	if d.errCode != "" {
		c.Errors++
		return
	}
	switch d.recommendation {
	case comparison.Accept:
		c.Accept++
	case comparison.Reject:
		c.Reject++
	default:
		c.Review++
	}
	c.scoreSum += d.score
	if decided := c.Total - c.Errors; decided > 0 {
		c.MeanScore = c.scoreSum / float64(decided)
	}
}

// Report summarizes a run.
type Report struct {
	Users         int `json:"users"`
	Enrolled      int `json:"enrolled"`
	EnrollFailed  int `json:"enrollFailed"`
	EnrollSamples int `json:"enrollSamples"` // quality rejects included

	Genuine ClassStats            `json:"genuine"`
	Forgery ClassStats            `json:"forgery"`
	ByStyle map[Style]*ClassStats `json:"byStyle"`

	// Rates are taken over decided challenges; errors are left out.
	GenuineAcceptRate float64        `json:"genuineAcceptRate"`
	ForgeryRejectRate float64        `json:"forgeryRejectRate"`
	MLDegraded        int            `json:"mlDegraded"`
	ErrorCodes        map[string]int `json:"errorCodes"`
	Duration          time.Duration  `json:"duration"`
}

func buildReport(results []writerResult) Report {
	report := Report{
		Users:      len(results),
		ByStyle:    map[Style]*ClassStats{},
		ErrorCodes: map[string]int{},
	}
	for _, res := range results {
		report.EnrollSamples += res.samples
		if !res.enrolled {
			report.EnrollFailed++
			continue
		}
		report.Enrolled++
		for _, d := range res.decisions {
			if d.style == StyleForgery {
				report.Forgery.add(d)
			} else {
				report.Genuine.add(d)
			}
			byStyle, ok := report.ByStyle[d.style]
			if !ok {
				byStyle = &ClassStats{}
				report.ByStyle[d.style] = byStyle
			}
			byStyle.add(d)
			if d.errCode != "" {
				report.ErrorCodes[d.errCode]++
			}
			if d.mlDegraded {
				report.MLDegraded++
			}
		}
	}
	report.GenuineAcceptRate = rate(report.Genuine.Accept, report.Genuine.Total-report.Genuine.Errors)
	report.ForgeryRejectRate = rate(report.Forgery.Reject, report.Forgery.Total-report.Forgery.Errors)
	return report
}

func rate(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of)
}
