// Package stats provides the statistical primitives used by pattern detection.
//
// Every function validates its inputs and reports programmer errors
// (malformed tables, mismatched series, out-of-range proportions)
// synchronously. Degenerate but valid inputs, such as a constant series,
// return a neutral result instead of an error.
package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultAlpha is the significance level used to gate pattern creation.
const DefaultAlpha = 0.05

// normalApproxDF is the degrees of freedom above which the t distribution
// is replaced by the standard normal.
const normalApproxDF = 30

// Input validation errors.
var (
	ErrUnsupportedTable      = errors.New("only 2x2 contingency tables are supported")
	ErrNegativeCount         = errors.New("contingency table counts must be non-negative")
	ErrZeroTotal             = errors.New("contingency table grand total is zero")
	ErrLengthMismatch        = errors.New("series must have equal length")
	ErrTooFewSamples         = errors.New("at least 3 paired samples are required")
	ErrInvalidTotal          = errors.New("total must be positive")
	ErrInvalidSuccesses      = errors.New("successes must be within [0, total]")
	ErrNonPositiveSampleSize = errors.New("sample sizes must be positive")
	ErrInvalidProbability    = errors.New("probability must be within (0, 1)")
	ErrInvalidEffectSize     = errors.New("effect size must be positive")
	ErrInvalidExpected       = errors.New("expected frequencies must be positive")
)

// TestResult is the outcome of a hypothesis test.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

// Significant reports whether the result clears DefaultAlpha.
func (r TestResult) Significant() bool {
	return IsSignificant(r.PValue, DefaultAlpha)
}

// ChiSquareTest runs Pearson's chi-square test of independence on a 2x2
// table of observed counts:
//
//	          outcome   no outcome
//	exposed   [0][0]    [0][1]
//	control   [1][0]    [1][1]
//
// The p-value uses the one-degree-of-freedom identity
// p = 2 * (1 - Phi(sqrt(chi2))). A table with a zero row or column marginal
// carries no information about association and yields (0, 1).
func ChiSquareTest(observed [][]float64) (TestResult, error) {
	if len(observed) != 2 || len(observed[0]) != 2 || len(observed[1]) != 2 {
		return TestResult{}, ErrUnsupportedTable
	}

	var rows, cols [2]float64
	total := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			v := observed[i][j]
			if v < 0 || math.IsNaN(v) {
				return TestResult{}, ErrNegativeCount
			}
			rows[i] += v
			cols[j] += v
			total += v
		}
	}
	if total == 0 {
		return TestResult{}, ErrZeroTotal
	}
	if rows[0] == 0 || rows[1] == 0 || cols[0] == 0 || cols[1] == 0 {
		return TestResult{Statistic: 0, PValue: 1}, nil
	}

	chi2 := 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			expected := rows[i] * cols[j] / total
			diff := observed[i][j] - expected
			chi2 += diff * diff / expected
		}
	}

	return TestResult{Statistic: chi2, PValue: clampProbability(2 * (1 - NormalCDF(math.Sqrt(chi2))))}, nil
}

// ChiSquareGoodnessOfFit tests observed category counts against expected
// counts with len-1 degrees of freedom.
func ChiSquareGoodnessOfFit(observed, expected []float64) (TestResult, error) {
	if len(observed) != len(expected) {
		return TestResult{}, ErrLengthMismatch
	}
	if len(observed) < 2 {
		return TestResult{}, fmt.Errorf("%w: need at least 2 categories", ErrUnsupportedTable)
	}

	chi2 := 0.0
	for i := range observed {
		if observed[i] < 0 {
			return TestResult{}, ErrNegativeCount
		}
		if expected[i] <= 0 {
			return TestResult{}, ErrInvalidExpected
		}
		diff := observed[i] - expected[i]
		chi2 += diff * diff / expected[i]
	}

	dist := distuv.ChiSquared{K: float64(len(observed) - 1)}
	return TestResult{Statistic: chi2, PValue: clampProbability(dist.Survival(chi2))}, nil
}

// PearsonCorrelation returns the linear correlation r of x and y with a
// two-sided p-value from t = r*sqrt(n-2)/sqrt(1-r^2). A constant series
// returns r=0, p=1.
func PearsonCorrelation(x, y []float64) (TestResult, error) {
	if len(x) != len(y) {
		return TestResult{}, ErrLengthMismatch
	}
	n := len(x)
	if n < 3 {
		return TestResult{}, ErrTooFewSamples
	}

	_, varX := stat.MeanVariance(x, nil)
	_, varY := stat.MeanVariance(y, nil)
	if varX == 0 || varY == 0 || math.IsNaN(varX) || math.IsNaN(varY) {
		return TestResult{Statistic: 0, PValue: 1}, nil
	}

	r := stat.Correlation(x, y, nil)
	r = math.Max(-1, math.Min(1, r))

	df := float64(n - 2)
	if math.Abs(r) == 1 {
		return TestResult{Statistic: r, PValue: 0}, nil
	}
	t := r * math.Sqrt(df) / math.Sqrt(1-r*r)

	return TestResult{Statistic: r, PValue: clampProbability(twoSidedTPValue(t, df))}, nil
}

// twoSidedTPValue uses the Student-t distribution for small samples and the
// normal approximation once df exceeds normalApproxDF.
func twoSidedTPValue(t, df float64) float64 {
	at := math.Abs(t)
	if df > normalApproxDF {
		return 2 * (1 - NormalCDF(at))
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(at)
}

// ConfidenceInterval returns the Wilson score interval for a binomial
// proportion. Supported levels are 0.90, 0.95 and 0.99; any other level
// falls back to 0.95.
func ConfidenceInterval(successes, total int, level float64) (lower, upper float64, err error) {
	if total <= 0 {
		return 0, 0, ErrInvalidTotal
	}
	if successes < 0 || successes > total {
		return 0, 0, ErrInvalidSuccesses
	}

	z := zForLevel(level)
	n := float64(total)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := (p + z2/(2*n)) / denom
	margin := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n)) / denom

	lower = math.Max(0, center-margin)
	upper = math.Min(1, center+margin)
	return lower, upper, nil
}

func zForLevel(level float64) float64 {
	switch level {
	case 0.90:
		return 1.6449
	case 0.99:
		return 2.5758
	default:
		return 1.96
	}
}

// IsSignificant reports whether pValue < alpha.
func IsSignificant(pValue, alpha float64) bool {
	return pValue < alpha
}

// CohensD returns the absolute standardized mean difference using the
// pooled standard deviation. Zero pooled deviation yields 0.
func CohensD(mean1, mean2, std1, std2 float64, n1, n2 int) (float64, error) {
	if n1 <= 0 || n2 <= 0 {
		return 0, ErrNonPositiveSampleSize
	}

	var pooled float64
	if n1+n2 > 2 {
		pooled = math.Sqrt((float64(n1-1)*std1*std1 + float64(n2-1)*std2*std2) / float64(n1+n2-2))
	} else {
		pooled = math.Sqrt((std1*std1 + std2*std2) / 2)
	}
	if pooled == 0 {
		return 0, nil
	}
	return math.Abs(mean1-mean2) / pooled, nil
}

// MinimumSampleSize estimates the per-group sample size needed to detect
// effectSize with a two-sided test at alpha and the given power:
// n = 2 * ((z_{1-alpha/2} + z_{power}) / d)^2, rounded up.
func MinimumSampleSize(alpha, power, effectSize float64) (int, error) {
	if alpha <= 0 || alpha >= 1 || power <= 0 || power >= 1 {
		return 0, ErrInvalidProbability
	}
	if effectSize <= 0 {
		return 0, ErrInvalidEffectSize
	}

	zAlpha := distuv.UnitNormal.Quantile(1 - alpha/2)
	zBeta := distuv.UnitNormal.Quantile(power)
	n := 2 * math.Pow((zAlpha+zBeta)/effectSize, 2)
	return int(math.Ceil(n)), nil
}

// NormalCDF is the standard normal cumulative distribution function,
// computed from the error function.
func NormalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// PhiCoefficient converts a 2x2 chi-square statistic into an effect size.
func PhiCoefficient(chi2, n float64) float64 {
	if n <= 0 || chi2 <= 0 {
		return 0
	}
	return math.Sqrt(chi2 / n)
}

func clampProbability(p float64) float64 {
	if math.IsNaN(p) {
		return 1
	}
	return math.Max(0, math.Min(1, p))
}
