package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/utils"
)

func rewrite(path string, m *motion.Motion) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := motion.WriteVMD(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	var encoding, rewritePath string
	var frame int
	var list bool
	flag.StringVar(&encoding, "encoding", config.DefaultEncoding, "Encoding of names inside files")
	flag.StringVar(&rewritePath, "rewrite", "", "Write parsed motion back as vmd")
	flag.IntVar(&frame, "frame", -1, "Dump pose sampled at frame instead of summary")
	flag.BoolVar(&list, "encodings", false, "List supported encodings")
	flag.Parse()

	if list {
		utils.Dump(config.ListEncodings())
		return
	}
	if flag.NArg() == 0 {
		flag.PrintDefaults()
		return
	}
	if err := config.SetEncoding(encoding); err != nil {
		log.Fatal(err)
	}

	for _, path := range flag.Args() {
		var m *motion.Motion
		if strings.EqualFold(filepath.Ext(path), ".vpd") {
			p, err := motion.LoadVPD(path)
			if err != nil {
				log.Fatal(err)
			}
			utils.Dump(p)
			m = p.ToMotion()
		} else {
			var err error
			if m, err = motion.LoadVMD(path); err != nil {
				log.Fatal(err)
			}
			if frame >= 0 {
				utils.Dump(motion.PoseFromMotion(m, uint32(frame)))
			} else {
				utils.Dump(m.Summary())
			}
		}

		if rewritePath != "" {
			if err := rewrite(rewritePath, m); err != nil {
				log.Fatal(err)
			}
			log.Printf("[vmdinfo] %q written to %q", path, rewritePath)
		}
	}
}
