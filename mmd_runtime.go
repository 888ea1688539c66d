package main

import (
	"flag"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/handles"
	"github.com/mogaika/mmd_runtime/model"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/status"
	"github.com/mogaika/mmd_runtime/utils"
	"github.com/mogaika/mmd_runtime/web"
)

func export(path string, f func(*os.File) error) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to create %q", path)
	}
	if err := f(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func main() {
	var configPath, rig, vmd, vpd, gltfPath, fbxPath, addr string
	var frames int
	var dt float64
	var dump, posed bool
	flag.StringVar(&configPath, "config", config.DefaultConfigPath, "Path to yaml config")
	flag.StringVar(&rig, "rig", "", "Path to yaml rig description")
	flag.StringVar(&vmd, "vmd", "", "Motion played on layer 0")
	flag.StringVar(&vpd, "vpd", "", "Pose applied as bone overrides")
	flag.IntVar(&frames, "frames", -1, "Ticks to run, -1 - motion duration")
	flag.Float64Var(&dt, "dt", 1.0/30, "Tick delta in seconds")
	flag.StringVar(&gltfPath, "gltf", "", "Export glb after ticking")
	flag.StringVar(&fbxPath, "fbx", "", "Export fbx after ticking")
	flag.BoolVar(&posed, "posed", true, "Export current pose as static mesh, or bind pose with skin")
	flag.BoolVar(&dump, "dump", false, "Dump model state after ticking")
	flag.StringVar(&addr, "web", "", "Address of debug server, overrides web.addr of config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if addr == "" {
		addr = cfg.Web.Addr
	}
	if rig == "" && addr == "" {
		flag.PrintDefaults()
		return
	}

	ctx := handles.NewContext(cfg)
	defer ctx.Close()
	hub := status.NewHub()
	defer hub.Close()
	hub.Listen(func(s *status.Status) {
		log.Printf("[status] %s", s.Message)
	})
	ctx.SetReporter(hub)

	if rig != "" {
		if err := run(ctx, rig, vmd, vpd, frames, float32(dt)); err != nil {
			log.Fatal(err)
		}
		m := ctx.Models()[0]
		mdl, _ := ctx.Model(m.Handle)

		if dump {
			utils.Dump(mdl.Info())
			if info, ok := mdl.PhysicsDebugInfo(); ok {
				utils.Dump(info)
			}
		}
		if gltfPath != "" {
			if err := export(gltfPath, func(f *os.File) error { return mdl.ExportGLTF(f, posed) }); err != nil {
				log.Fatal(err)
			}
			log.Printf("[main] Exported %q", gltfPath)
		}
		if fbxPath != "" {
			if err := export(fbxPath, func(f *os.File) error { return mdl.ExportFBX(f, posed) }); err != nil {
				log.Fatal(err)
			}
			log.Printf("[main] Exported %q", fbxPath)
		}
	}

	if addr != "" {
		if err := web.StartServer(addr, ctx, hub); err != nil {
			log.Fatal(err)
		}
	}
}

func run(ctx *handles.Context, rig, vmd, vpd string, frames int, dt float32) error {
	mh, err := ctx.LoadModel(rig)
	if err != nil {
		return err
	}
	m, err := ctx.Model(mh)
	if err != nil {
		return err
	}

	if vmd != "" {
		moh, err := ctx.LoadMotion(vmd)
		if err != nil {
			return err
		}
		if err := ctx.SetLayerMotion(mh, 0, moh); err != nil {
			return err
		}
	}
	if vpd != "" {
		p, err := motion.LoadVPD(vpd)
		if err != nil {
			return err
		}
		bones, morphs := m.ApplyPose(p)
		log.Printf("[main] Pose %q matched %d/%d bones, %d/%d morphs", vpd, bones, len(p.Bones), morphs, len(p.Morphs))
	}

	if frames < 0 {
		frames = int(m.MaxFrame()) + 1
	}
	tick(ctx, m, frames, dt)
	return nil
}

func tick(ctx *handles.Context, m *model.Model, frames int, dt float32) {
	for i := 0; i < frames; i++ {
		ctx.TickAll(dt)
	}
	r := m.LastReport()
	log.Printf("[main] %q ticked %d times, last report %+v", m.Name, m.Ticks(), r)
}
