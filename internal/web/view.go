package web

import (
	"time"

	"virtual-tryon/internal/tryon"
)

type fileView struct {
	Name    string `json:"name,omitempty"`
	DataURI string `json:"dataUri"`
	Format  string `json:"format,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

type clothingView struct {
	Top       *fileView `json:"top,omitempty"`
	Bottom    *fileView `json:"bottom,omitempty"`
	Accessory *fileView `json:"accessory,omitempty"`
}

type resultView struct {
	Image    string `json:"image"`
	Caption  string `json:"caption"`
	Subtitle string `json:"subtitle"`
}

type stateView struct {
	Photo       *fileView    `json:"photo,omitempty"`
	Clothing    clothingView `json:"clothing"`
	Mode        string       `json:"mode"`
	Results     []resultView `json:"results"`
	Error       string       `json:"error,omitempty"`
	Loading     bool         `json:"loading"`
	Progress    string       `json:"progress,omitempty"`
	Status      string       `json:"status"`
	CanGenerate bool         `json:"canGenerate"`
	NextSlot    string       `json:"nextSlot,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type sceneView struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Caption     string `json:"caption"`
	Subtitle    string `json:"subtitle"`
}

func newStateView(st tryon.State, scenes []tryon.Scene) *stateView {
	v := &stateView{
		Photo: newFileView(st.Self),
		Clothing: clothingView{
			Top:       newFileView(st.Clothing.Top),
			Bottom:    newFileView(st.Clothing.Bottom),
			Accessory: newFileView(st.Clothing.Accessory),
		},
		Mode:        string(st.Mode),
		Results:     newResultViews(st.Images, scenes),
		Error:       st.Error,
		Loading:     st.Loading,
		Progress:    st.Progress,
		Status:      string(st.Status),
		CanGenerate: st.CanGenerate(),
		NextSlot:    st.NextEmptySlot(),
		UpdatedAt:   st.UpdatedAt,
	}
	return v
}

func newFileView(f *tryon.UploadedFile) *fileView {
	if f == nil {
		return nil
	}
	v := &fileView{Name: f.Name, DataURI: f.DataURI()}
	if info, err := tryon.Inspect(*f); err == nil {
		v.Format = info.Format
		v.Width = info.Width
		v.Height = info.Height
	}
	return v
}

func newResultViews(images []string, scenes []tryon.Scene) []resultView {
	out := make([]resultView, 0, len(images))
	for i, img := range images {
		rv := resultView{Image: img}
		if i < len(scenes) {
			rv.Caption = scenes[i].Caption
			rv.Subtitle = scenes[i].Subtitle
		}
		out = append(out, rv)
	}
	return out
}

func newSceneViews(scenes []tryon.Scene) []sceneView {
	out := make([]sceneView, 0, len(scenes))
	for _, sc := range scenes {
		out = append(out, sceneView{
			Title:       sc.Title(),
			Description: sc.Description,
			Caption:     sc.Caption,
			Subtitle:    sc.Subtitle,
		})
	}
	return out
}
