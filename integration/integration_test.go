package integration_test

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/gexec"

	"github.com/iCMLab/stranding/pkg/seqref"
	"github.com/iCMLab/stranding/pkg/stranding"
)

func randomSequence(n int) string {
	const bases = "ACGT"
	rng := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	for idx := range buf {
		buf[idx] = bases[rng.Intn(len(bases))]
	}
	return string(buf)
}

var _ = Describe("stranding", func() {
	var p *project

	BeforeEach(func() {
		p = newProject()
	})

	remoteTags := func() string {
		return strings.TrimSpace(git(p.remote, "tag", "-l"))
	}

	Context("task", func() {
		It("runs the default target", func() {
			session := p.run("task")
			Eventually(session, "20s").Should(gexec.Exit(0))
		})

		It("exits with the status of the failed command", func() {
			session := p.run("task", "test", "test_result=3")
			Eventually(session, "20s").Should(gexec.Exit(3))
		})

		It("lists the visible tasks", func() {
			session := p.run("task", "--list")
			Eventually(session, "20s").Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say("release"))
			Expect(string(session.Out.Contents())).To(ContainSubstring("Tags and pushes the release"))
		})

		It("fails for unknown tasks", func() {
			session := p.run("task", "deploy")
			Eventually(session, "20s").Should(gexec.Exit(1))
		})

		It("dispatches the file helpers to its own binary", func() {
			session := p.run("task", "files")
			Eventually(session, "20s").Should(gexec.Exit(0))

			content, err := os.ReadFile(filepath.Join(p.dir, "out", "nested", "a.txt"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(content)).To(Equal("hi\n"))
			Expect(filepath.Join(p.dir, "out", "a.txt")).NotTo(BeAnExistingFile())
			Expect(filepath.Join(p.dir, "out", "my file")).NotTo(BeAnExistingFile())
			Expect(filepath.Join(p.dir, "out", "my")).To(BeAnExistingFile())
		})

		It("removes generated files", func() {
			writeFile(filepath.Join(p.dir, "build", "output.bin"), "x")
			writeFile(filepath.Join(p.dir, "pkg", "pkg.test"), "x")
			writeFile(filepath.Join(p.dir, "pkg", "keep.go"), "package pkg\n")

			session := p.run("task", "clean")
			Eventually(session, "20s").Should(gexec.Exit(0))

			Expect(filepath.Join(p.dir, "build")).NotTo(BeAnExistingFile())
			Expect(filepath.Join(p.dir, "pkg", "pkg.test")).NotTo(BeAnExistingFile())
			Expect(filepath.Join(p.dir, "pkg", "keep.go")).To(BeAnExistingFile())
		})
	})

	Context("release", func() {
		It("prints the version", func() {
			session := p.run("version")
			Eventually(session, "10s").Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say(`1\.2\.3`))

			session = p.run("version", "--tag")
			Eventually(session, "10s").Should(gexec.Exit(0))
			Expect(session.Out).To(gbytes.Say(`v1\.2\.3`))
		})

		It("doesn't tag anything if the tests fail", func() {
			session := p.run("task", "release", "test_result=1")
			Eventually(session, "20s").Should(gexec.Exit(1))

			Expect(remoteTags()).To(BeEmpty())
			Expect(strings.TrimSpace(git(p.dir, "tag", "-l"))).To(BeEmpty())
		})

		It("doesn't tag anything in a dry run", func() {
			session := p.run("task", "--dry", "release")
			Eventually(session, "20s").Should(gexec.Exit(0))

			Expect(remoteTags()).To(BeEmpty())
		})

		It("tags and pushes the release once the tests pass", func() {
			session := p.run("task", "release")
			Eventually(session, "30s").Should(gexec.Exit(0))

			Expect(remoteTags()).To(Equal("v1.2.3"))
		})

		It("refuses to release the same version twice", func() {
			session := p.run("release")
			Eventually(session, "30s").Should(gexec.Exit(0))

			session = p.run("release")
			Eventually(session, "30s").Should(gexec.Exit(1))
		})
	})

	Context("stranding", func() {
		var chr1 string

		BeforeEach(func() {
			chr1 = randomSequence(400)
			writeFile(seqref.ChromosomePath(p.data, seqref.Build37, "1"), ">chr1\n"+chr1+"\n")
		})

		It("detects the forward strand", func() {
			session := p.run("strand", "--chr", "1", "--pos", "200", "--five", chr1[180:200], "--three", "")
			Eventually(session, "10s").Should(gexec.Exit(0))
			Expect(strings.TrimSpace(string(session.Out.Contents()))).To(Equal("1"))
		})

		It("detects the reverse strand", func() {
			three := stranding.ReverseComplement(chr1[180:200])
			session := p.run("strand", "--chr", "1", "--pos", "200", "--five", "", "--three", three)
			Eventually(session, "10s").Should(gexec.Exit(0))
			Expect(strings.TrimSpace(string(session.Out.Contents()))).To(Equal("-1"))
		})

		It("fails for chromosomes without reference data", func() {
			session := p.run("strand", "--chr", "2", "--pos", "200", "--five", chr1[180:200], "--three", "")
			Eventually(session, "10s").Should(gexec.Exit(1))
		})

		It("strands a batch file", func() {
			input := filepath.Join(p.dir, "input.tsv")
			output := filepath.Join(p.dir, "output.tsv")
			writeFile(input, strings.Join([]string{
				"id\tchr\tpos\tfive_prime\tthree_prime",
				fmt.Sprintf("fwd\t1\t200\t%s\t", chr1[180:200]),
				fmt.Sprintf("rev\t1\t200\t\t%s", stranding.ReverseComplement(chr1[180:200])),
				"short\t1\t200\tACGT\t",
				"",
			}, "\n"))

			session := p.run("batch", "-q", "-o", output, input)
			Eventually(session, "20s").Should(gexec.Exit(0))

			content, err := os.ReadFile(output)
			Expect(err).NotTo(HaveOccurred())

			lines := strings.Split(strings.TrimSpace(string(content)), "\n")
			Expect(lines).To(HaveLen(4))
			Expect(lines[0]).To(Equal("id\tstrand\terror"))
			Expect(lines[1]).To(HavePrefix("fwd\t1\t"))
			Expect(lines[2]).To(HavePrefix("rev\t-1\t"))
			Expect(lines[3]).To(HavePrefix("short\t\t"))
			Expect(lines[3]).To(ContainSubstring("minimum flank length"))
		})
	})
})
