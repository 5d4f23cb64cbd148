package similarity_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/strokeauth/internal/capturegen"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/similarity"
)

func extract(seed uint64, style capturegen.Style, variant uint64, opts ...capturegen.SampleOption) features.FeatureSet {
	return features.NewExtractor().Extract(capturegen.NewProfile(seed).Sample(style, variant, opts...))
}

func TestAxisScores(t *testing.T) {
	sc := similarity.DefaultScales()
	algs := []similarity.Algorithm{similarity.Euclidean, similarity.DTW, similarity.Hybrid}

	Convey("Given identical feature sets", t, func() {
		a := extract(11, capturegen.StyleNormal, 1)

		Convey("Then every axis scores 1", func() {
			for _, alg := range algs {
				for _, s := range similarity.Scores(a, a, alg, sc) {
					So(s, ShouldAlmostEqual, 1, 1e-12)
				}
			}
		})
	})

	Convey("Given samples from different writers", t, func() {
		var sets []features.FeatureSet
		for seed := uint64(1); seed <= 4; seed++ {
			for _, style := range capturegen.Styles() {
				sets = append(sets, extract(seed, style, seed*7))
			}
		}

		Convey("Then scores are bounded and symmetric", func() {
			for i := range sets {
				for j := range sets {
					for _, alg := range algs {
						ab := similarity.Scores(sets[i], sets[j], alg, sc)
						ba := similarity.Scores(sets[j], sets[i], alg, sc)
						for _, axis := range features.Axes() {
							So(ab[axis], ShouldBeBetweenOrEqual, 0, 1)
							So(ab[axis], ShouldEqual, ba[axis])
						}
					}
				}
			}
		})
	})

	Convey("Given a genuine repeat and a forgery of the same profile", t, func() {
		ref := extract(5, capturegen.StyleNormal, 1)
		genuine := extract(5, capturegen.StyleNormal, 2)
		forgery := extract(5, capturegen.StyleForgery, 2)

		Convey("Then timing separates them", func() {
			So(similarity.Timing(ref.Timing, genuine.Timing, sc), ShouldBeGreaterThan,
				similarity.Timing(ref.Timing, forgery.Timing, sc))
		})
	})

	Convey("Given an axis excluded on one side", t, func() {
		a := extract(9, capturegen.StyleNormal, 1)
		b := extract(9, capturegen.StyleNormal, 1, capturegen.WithoutPressure())
		So(similarity.Axis(features.AxisPressure, a, b, similarity.Euclidean, sc), ShouldEqual, 0)
		So(similarity.Pressure(nil, a.Pressure), ShouldEqual, 0)
	})
}

func TestAngleDTW(t *testing.T) {
	Convey("Given angle sequences", t, func() {
		So(similarity.AngleDTW(nil, nil), ShouldEqual, 0)
		So(similarity.AngleDTW([]float64{1}, nil), ShouldEqual, 1)

		a := []float64{0.1, 0.5, 0.9, 0.5}
		stretched := []float64{0.1, 0.1, 0.5, 0.9, 0.9, 0.5}
		So(similarity.AngleDTW(a, stretched), ShouldEqual, 0)

		b := []float64{3.0, 0.2, 1.4}
		So(similarity.AngleDTW(a, b), ShouldEqual, similarity.AngleDTW(b, a))
		So(similarity.AngleDTW(a, b), ShouldBeBetweenOrEqual, 0, 1)
	})
}

func TestParseAlgorithm(t *testing.T) {
	Convey("Given algorithm names", t, func() {
		alg, err := similarity.ParseAlgorithm("hybrid")
		So(err, ShouldBeNil)
		So(alg, ShouldEqual, similarity.Hybrid)

		_, err = similarity.ParseAlgorithm("cosine")
		So(err, ShouldNotBeNil)
	})
}
