package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func fillClasses(t *testing.T, root string, counts map[string]int) {
	t.Helper()
	for label, n := range counts {
		dir := filepath.Join(root, label)
		test.That(t, os.MkdirAll(dir, 0o755), test.ShouldBeNil)
		for i := 0; i < n; i++ {
			p := filepath.Join(dir, fmt.Sprintf("%s_%02d.jpg", label, i))
			test.That(t, os.WriteFile(p, []byte("x"), 0o644), test.ShouldBeNil)
		}
	}
}

func TestCountClasses(t *testing.T) {
	root := t.TempDir()
	fillClasses(t, root, map[string]int{"clubs": 4, "diamonds": 2, "hearts": 3, "spades": 4, "jokers": 0})

	dist, err := CountClasses(root, Suits, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dist.Classes, test.ShouldResemble, []ClassCount{
		{"clubs", 4}, {"diamonds", 2}, {"hearts", 3}, {"spades", 4},
	})
	test.That(t, dist.Unknown, test.ShouldResemble, []ClassCount{{"jokers", 0}})
	test.That(t, dist.Total(), test.ShouldEqual, 13)
	test.That(t, dist.ImbalanceRatio(), test.ShouldAlmostEqual, 2.0)

	warnings, err := CheckBalance(dist, BalanceFail, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warnings, test.ShouldHaveLength, 1)
}

func TestCheckBalanceImbalance(t *testing.T) {
	root := t.TempDir()
	fillClasses(t, root, map[string]int{"clubs": 10, "diamonds": 2, "hearts": 3, "spades": 4})
	dist, err := CountClasses(root, Suits, nil)
	test.That(t, err, test.ShouldBeNil)

	warnings, err := CheckBalance(dist, BalanceWarn, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, warnings, test.ShouldHaveLength, 1)
	test.That(t, warnings[0], test.ShouldContainSubstring, "clubs=10")

	_, err = CheckBalance(dist, BalanceFail, 3)
	var imb *ImbalanceError
	test.That(t, errors.As(err, &imb), test.ShouldBeTrue)
	test.That(t, imb.Smallest.Label, test.ShouldEqual, "diamonds")

	_, err = CheckBalance(dist, BalanceFail, 0)
	test.That(t, err, test.ShouldBeNil)
}

func TestCheckBalanceClassMismatch(t *testing.T) {
	root := t.TempDir()
	fillClasses(t, root, map[string]int{"clubs": 3, "diamonds": 3, "hearts": 3, "stars": 2})
	dist, err := CountClasses(root, Suits, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsInf(dist.ImbalanceRatio(), 1), test.ShouldBeTrue)

	_, err = CheckBalance(dist, BalanceWarn, 3)
	var mismatch *ClassCountError
	test.That(t, errors.As(err, &mismatch), test.ShouldBeTrue)
	test.That(t, mismatch.Empty, test.ShouldResemble, []string{"spades"})
	test.That(t, mismatch.Unknown, test.ShouldResemble, []string{"stars"})
}

func TestParseBalancePolicy(t *testing.T) {
	p, err := ParseBalancePolicy("FAIL")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, BalanceFail)
	_, err = ParseBalancePolicy("ignore")
	test.That(t, err, test.ShouldNotBeNil)
}
