package integration_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gexec"
)

var strandingPath string

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

var _ = BeforeSuite(func() {
	var err error
	strandingPath, err = gexec.Build("github.com/iCMLab/stranding")
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	gexec.CleanupBuildArtifacts()
})

const recipe = `
result = option("test_result", "0")

def configure():
    task("test", desc = "Pretends to run the tests", cmds = ["exit " + result])
    task("all", desc = "Default target", deps = ["test"])
    task(
        "clean",
        desc = "Removes generated files",
        cmds = [("tool", "clean", "build", "--pattern", "*.test")],
    )
    task(
        "release",
        desc = "Tags and pushes the release",
        deps = ["test"],
        cmds = [("tool", "release")],
    )
    task(
        "files",
        cmds = [
            "mkdir -p out/nested",
            "echo hi > out/a.txt",
            "mv out/a.txt out/nested/",
            "rm -f out/missing.txt",
            "echo x > 'out/my file'",
            "echo x > out/my",
            "rm 'out/my file'",
        ],
    )
`

type project struct {
	dir    string
	remote string
	data   string
}

func git(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	Expect(err).NotTo(HaveOccurred(), string(out))
	return string(out)
}

func writeFile(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o770)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0o660)).To(Succeed())
}

func newProject() *project {
	base := GinkgoT().TempDir()
	p := &project{
		dir:    filepath.Join(base, "work"),
		remote: filepath.Join(base, "remote.git"),
		data:   filepath.Join(base, "seqseek"),
	}

	Expect(os.MkdirAll(p.dir, 0o770)).To(Succeed())
	git(base, "init", "--bare", p.remote)
	git(p.dir, "init")
	git(p.dir, "remote", "add", "origin", p.remote)

	writeFile(filepath.Join(p.dir, "tasks.star"), recipe)
	writeFile(filepath.Join(p.dir, "VERSION"), "1.2.3\n")
	writeFile(filepath.Join(p.dir, ".gitignore"), ".task-cache\n")
	git(p.dir, "add", ".")
	git(p.dir, "commit", "-m", "init")

	return p
}

func (p *project) run(args ...string) *gexec.Session {
	cmd := exec.Command(strandingPath, args...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), "CI=true", "SEQSEEK_DATA_DIR="+p.data)

	session, err := gexec.Start(cmd, GinkgoWriter, GinkgoWriter)
	Expect(err).NotTo(HaveOccurred())
	return session
}
