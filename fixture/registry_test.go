package fixture_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/flanksource/harness/fixture"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type loginPage struct{ page string }

var _ = Describe("Registry", func() {
	It("keeps the first registration slot when a name is overridden", func() {
		reg := fixture.NewRegistry().
			Fixture("a", value(1)).
			Fixture("b", value(2)).
			Fixture("a", value(3))

		Expect(reg.Names()).To(Equal([]string{"a", "b"}))
		def, ok := reg.Lookup("a")
		Expect(ok).To(BeTrue())
		v, err := def.Provider(context.Background(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(3))
	})

	It("applies options", func() {
		reg := fixture.NewRegistry().
			Fixture("db", value(nil), fixture.WithScope(fixture.PerSuite), fixture.WithAuto()).
			Fixture("page", value(nil))

		def, _ := reg.Lookup("db")
		Expect(def.Scope).To(Equal(fixture.PerSuite))
		Expect(def.Scope.String()).To(Equal("suite"))
		Expect(reg.AutoNames()).To(Equal([]string{"db"}))
	})

	It("extends with a reusable bundle, later definitions winning", func() {
		rec := &recorder{}
		bundle := fixture.NewRegistry().
			Fixture("b", value("bundle")).
			Fixture("c", value("c")).
			AfterAll(func(context.Context, *fixture.Context) error {
				rec.add("bundle after")
				return nil
			})

		reg := fixture.NewRegistry().
			Fixture("a", value("a")).
			Fixture("b", value("local")).
			Extend(bundle)

		Expect(reg.Names()).To(Equal([]string{"a", "b", "c"}))

		err := fixture.NewRunner(fixture.WithLogger(quietLogger{})).Run(context.Background(), reg,
			func(_ context.Context, c *fixture.Context) error {
				Expect(fixture.MustGet[string](c, "b")).To(Equal("bundle"))
				return nil
			})
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.list()).To(Equal([]string{"bundle after"}))
	})

	It("binds page objects and services", func() {
		reg := fixture.NewRegistry().
			Service("container", func() (any, error) { return map[string]string{}, nil }).
			Fixture("page", value("tab-1")).
			Page("loginPage", "page", func(p any) (any, error) {
				return &loginPage{page: p.(string)}, nil
			})

		err := fixture.NewRunner(fixture.WithLogger(quietLogger{})).Run(context.Background(), reg,
			func(_ context.Context, c *fixture.Context) error {
				lp := fixture.KeyOf[*loginPage]("loginPage").Must(c)
				if lp.page != "tab-1" {
					return fmt.Errorf("unexpected page %s", lp.page)
				}
				return nil
			})
		Expect(err).ToNot(HaveOccurred())
	})

	It("fails a page object whose page fixture is missing", func() {
		reg := fixture.NewRegistry().Page("loginPage", "page", func(p any) (any, error) { return p, nil })

		err := fixture.NewRunner(fixture.WithLogger(quietLogger{})).Run(context.Background(), reg,
			func(context.Context, *fixture.Context) error { return nil })
		Expect(errors.Is(err, fixture.FixtureFailureKind)).To(BeTrue())
	})
})

var _ = Describe("Ledger", func() {
	It("records entries without release functions", func() {
		ledger := fixture.NewLedger()
		ledger.Record(fixture.Definition{Name: "plain"}, 42)
		ledger.Record(fixture.Definition{Name: "closer"}, &closer{name: "closer", rec: &recorder{}})

		Expect(ledger.Names()).To(Equal([]string{"plain", "closer"}))
		Expect(ledger.Release(context.Background(), quietLogger{})).To(BeEmpty())
		Expect(ledger.Len()).To(Equal(0))
	})

	It("converts a panicking release into a teardown failure", func() {
		ledger := fixture.NewLedger()
		ledger.Record(fixture.Definition{
			Name: "bad",
			Options: fixture.Options{Teardown: func(context.Context, any) error {
				panic("oops")
			}},
		}, nil)

		errs := ledger.Release(context.Background(), quietLogger{})
		Expect(errs).To(HaveLen(1))
		Expect(errors.Is(errs[0], fixture.TeardownFailureKind)).To(BeTrue())
	})
})
