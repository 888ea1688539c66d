package web

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/handles"
	"github.com/mogaika/mmd_runtime/model"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/utils"
	"github.com/mogaika/mmd_runtime/webutils"
)

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, handles.ErrUnknownHandle) {
		webutils.WriteErrorCode(w, http.StatusNotFound, err)
	} else {
		webutils.WriteError(w, err)
	}
}

func (s *server) info(format string, a ...interface{}) {
	if s.hub != nil {
		s.hub.Info(format, a...)
	}
}

func (s *server) model(r *http.Request) (*model.Model, handles.Handle, error) {
	h, err := handles.ParseHandle(mux.Vars(r)["id"])
	if err != nil {
		return nil, h, err
	}
	m, err := s.ctx.Model(h)
	return m, h, err
}

func (s *server) motion(r *http.Request) (*motion.Motion, handles.Handle, error) {
	h, err := handles.ParseHandle(mux.Vars(r)["id"])
	if err != nil {
		return nil, h, err
	}
	m, err := s.ctx.Motion(h)
	return m, h, err
}

func (s *server) HandlerJsonModels(w http.ResponseWriter, r *http.Request) {
	webutils.WriteJson(w, s.ctx.Models())
}

func (s *server) HandlerJsonModel(w http.ResponseWriter, r *http.Request) {
	if m, _, err := s.model(r); err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, m.Info())
	}
}

func (s *server) HandlerJsonModelLayers(w http.ResponseWriter, r *http.Request) {
	if m, _, err := s.model(r); err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, m.Layers())
	}
}

func (s *server) HandlerJsonModelBones(w http.ResponseWriter, r *http.Request) {
	if m, _, err := s.model(r); err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, m.Bones())
	}
}

func (s *server) HandlerJsonModelPhysics(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	info, ok := m.PhysicsDebugInfo()
	if !ok {
		writeError(w, errors.Errorf("Model %q has no physics", m.Name))
		return
	}
	webutils.WriteJson(w, info)
}

func (s *server) HandlerJsonMotions(w http.ResponseWriter, r *http.Request) {
	webutils.WriteJson(w, s.ctx.Motions())
}

func (s *server) HandlerJsonMotion(w http.ResponseWriter, r *http.Request) {
	if m, _, err := s.motion(r); err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, m.Summary())
	}
}

func (s *server) HandlerActionTick(w http.ResponseWriter, r *http.Request) {
	dt, err := webutils.QueryFloat(r, "dt")
	if err != nil {
		writeError(w, err)
		return
	}
	if dt < 0 {
		writeError(w, errors.Errorf("Negative tick delta %v", dt))
		return
	}
	s.ctx.TickAll(dt)
	webutils.WriteJson(w, s.ctx.Models())
}

func (s *server) layerAction(r *http.Request, m *model.Model, layer int, action string) error {
	var ok bool
	switch action {
	case "play":
		ok = m.PlayLayer(layer)
	case "stop":
		ok = m.StopLayer(layer)
	case "pause":
		ok = m.PauseLayer(layer)
	case "resume":
		ok = m.ResumeLayer(layer)
	case "enable", "disable":
		ok = m.SetLayerEnabled(layer, action == "enable")
	case "seek", "weight", "speed":
		key := "value"
		if action == "seek" {
			key = "frame"
		}
		v, err := webutils.QueryFloat(r, key)
		if err != nil {
			return err
		}
		switch action {
		case "seek":
			ok = m.SeekLayer(layer, v)
		case "weight":
			ok = m.SetLayerWeight(layer, v)
		default:
			ok = m.SetLayerSpeed(layer, v)
		}
	case "loop":
		v, err := webutils.QueryBool(r, "value")
		if err != nil {
			return err
		}
		ok = m.SetLayerLoop(layer, v)
	case "fade":
		in, err := webutils.QueryFloat(r, "in")
		if err != nil {
			return err
		}
		out, err := webutils.QueryFloat(r, "out")
		if err != nil {
			return err
		}
		ok = m.SetLayerFadeTimes(layer, in, out)
	case "motion", "transition":
		moh, err := handles.ParseHandle(r.URL.Query().Get("motion"))
		if err != nil {
			return err
		}
		mot, err := s.ctx.Motion(moh)
		if err != nil {
			return err
		}
		if action == "motion" {
			ok = m.SetLayerMotion(layer, mot) && m.PlayLayer(layer)
		} else {
			seconds, err := webutils.QueryFloat(r, "seconds")
			if err != nil {
				return err
			}
			ok = m.TransitionLayerTo(layer, mot, seconds)
		}
	default:
		return errors.Errorf("Unknown layer action %q", action)
	}
	if !ok {
		return errors.Errorf("Model %q has no layer %d", m.Name, layer)
	}
	return nil
}

func (s *server) HandlerActionLayer(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	layer, err := strconv.Atoi(mux.Vars(r)["layer"])
	if err != nil {
		writeError(w, errors.Wrapf(err, "Layer %q is not integer", mux.Vars(r)["layer"]))
		return
	}
	action := mux.Vars(r)["action"]
	if err := s.layerAction(r, m, layer, action); err != nil {
		writeError(w, err)
		return
	}
	s.info("Model %q layer %d %s", m.Name, layer, action)
	webutils.WriteJson(w, m.Layers())
}

func (s *server) HandlerActionMorph(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	weight, err := webutils.QueryFloat(r, "weight")
	if err != nil {
		writeError(w, err)
		return
	}
	name := mux.Vars(r)["morph"]
	if !m.SetMorphWeightByName(name, weight) {
		writeError(w, errors.Errorf("Model %q has no morph %q", m.Name, name))
		return
	}
	webutils.WriteJson(w, m.Info().ActiveMorphs)
}

func (s *server) HandlerActionPhysics(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !m.HasPhysics() {
		writeError(w, errors.Errorf("Model %q has no physics", m.Name))
		return
	}
	switch action := mux.Vars(r)["action"]; action {
	case "enable":
		m.SetPhysicsEnabled(true)
	case "disable":
		m.SetPhysicsEnabled(false)
	case "reset":
		m.ResetPhysics()
	default:
		writeError(w, errors.Errorf("Unknown physics action %q", action))
		return
	}
	s.info("Model %q physics %s", m.Name, mux.Vars(r)["action"])
	webutils.WriteJson(w, m.Info())
}

func (s *server) HandlerActionMaterials(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	visible, err := webutils.QueryBool(r, "visible")
	if err != nil {
		writeError(w, err)
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		webutils.WriteJson(w, m.SetMaterialVisibleByName(name, visible))
	} else {
		m.SetAllMaterialsVisible(visible)
		webutils.WriteJson(w, m.MaterialCount())
	}
}

func (s *server) HandlerActionDeleteModel(w http.ResponseWriter, r *http.Request) {
	h, err := handles.ParseHandle(mux.Vars(r)["id"])
	if err == nil {
		err = s.ctx.DeleteModel(h)
	}
	if err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, s.ctx.Models())
	}
}

func (s *server) HandlerActionDeleteMotion(w http.ResponseWriter, r *http.Request) {
	h, err := handles.ParseHandle(mux.Vars(r)["id"])
	if err == nil {
		err = s.ctx.DeleteMotion(h)
	}
	if err != nil {
		writeError(w, err)
	} else {
		webutils.WriteJson(w, s.ctx.Motions())
	}
}

func (s *server) HandlerDumpModel(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dump := struct {
		Info  model.Info       `json:"info"`
		Bones []model.BoneInfo `json:"bones"`
	}{m.Info(), m.Bones()}
	if r.URL.Query().Get("format") == "spew" {
		webutils.WriteFile(w, strings.NewReader(utils.SDump(dump)), m.Name+".txt")
	} else {
		webutils.WriteJsonFile(w, dump, m.Name)
	}
}

// HandlerDumpMotion writes motion back as vmd, or as vpd pose of ?frame
func (s *server) HandlerDumpMotion(w http.ResponseWriter, r *http.Request) {
	m, h, err := s.motion(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	name := h.String()
	if r.URL.Query().Get("frame") != "" {
		frame, ferr := strconv.ParseUint(r.URL.Query().Get("frame"), 10, 32)
		if ferr != nil {
			writeError(w, errors.Wrapf(ferr, "Invalid frame"))
			return
		}
		err = motion.WriteVPD(&buf, motion.PoseFromMotion(m, uint32(frame)))
		name += ".vpd"
	} else {
		err = motion.WriteVMD(&buf, m)
		name += ".vmd"
	}
	if err != nil {
		writeError(w, err)
		return
	}
	webutils.WriteFile(w, &buf, name)
}

func (s *server) HandlerExportModel(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.model(r)
	if err != nil {
		writeError(w, err)
		return
	}
	posed, err := webutils.QueryBool(r, "posed")
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	format := mux.Vars(r)["format"]
	switch format {
	case "gltf":
		err = m.ExportGLTF(&buf, posed)
		format = "glb"
	case "fbx":
		err = m.ExportFBX(&buf, posed)
	default:
		err = errors.Errorf("Unknown export format %q", format)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	webutils.WriteFile(w, &buf, m.Name+"."+format)
}

func (s *server) HandlerUploadModel(w http.ResponseWriter, r *http.Request) {
	data, fileName, err := webutils.ReadFormFile(r, "data")
	if err != nil {
		writeError(w, err)
		return
	}
	d, err := model.ParseRig(data)
	if err != nil {
		writeError(w, errors.Wrapf(err, "Rig %q", fileName))
		return
	}
	h, err := s.ctx.CreateModel(r.FormValue("name"), d)
	if err != nil {
		writeError(w, err)
		return
	}
	webutils.WriteJson(w, h)
}

// HandlerUploadMotion accepts vmd, or vpd when file name has .vpd extension
func (s *server) HandlerUploadMotion(w http.ResponseWriter, r *http.Request) {
	data, fileName, err := webutils.ReadFormFile(r, "data")
	if err != nil {
		writeError(w, err)
		return
	}
	var m *motion.Motion
	if strings.EqualFold(filepath.Ext(fileName), ".vpd") {
		var p *motion.Pose
		if p, err = motion.ParseVPD(bytes.NewReader(data)); err == nil {
			m = p.ToMotion()
		}
	} else {
		m, err = motion.ParseVMD(bytes.NewReader(data))
	}
	if err != nil {
		writeError(w, errors.Wrapf(err, "Motion %q", fileName))
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	h := s.ctx.AddMotion(name, m)
	s.info("Motion %q uploaded", name)
	webutils.WriteJson(w, h)
}

func (s *server) HandlerWsStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with http error
		return
	}
	s.hub.NewClient(conn)
}
