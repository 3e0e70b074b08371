// Command embed generates a Go source file with one string constant per
// data file in the working directory, for embedding JSON manifests into
// service binaries. A manifest.json becomes the constant manifestJSON.
// File contents must not contain backticks.
package main

import (
	"flag"
	"io"
	"os"
	"strings"
)

var fileType = flag.String("type", "json", "the type of files")

func main() {
	flag.Parse()

	suffix := "." + *fileType
	goSuffix := strings.ToUpper(*fileType)
	entries, err := os.ReadDir(".")
	if err != nil {
		panic(err)
	}
	out, err := os.Create("generated_embedded_" + *fileType + ".go")
	if err != nil {
		panic(err)
	}
	defer out.Close()

	out.Write([]byte("package main\n\nconst (\n"))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		f, err := os.Open(entry.Name())
		if err != nil {
			panic(err)
		}
		out.Write([]byte("\t" + strings.TrimSuffix(entry.Name(), suffix) + goSuffix + " = `"))
		io.Copy(out, f)
		out.Write([]byte("`\n"))
		f.Close()
	}
	out.Write([]byte(")\n"))
}
