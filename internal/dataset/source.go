package dataset

// Source identifies one data source. The set is closed: each source carries
// its feed locations, area column, and variable declarations as static
// configuration instead of being looked up by name at runtime.
type Source string

const (
	SourceContagions Source = "contagions"
	SourceVaccines   Source = "vaccines"
)

// File keys within a source.
const (
	FileNational = "national"
	FileRegional = "regional"
	FileDoses    = "doses"
	FileUpdate   = "update"
)

// RemoteFile pairs a remote path (relative to the source's base URL) with
// the local cache filename.
type RemoteFile struct {
	Remote string
	Local  string
}

// Spec is the static configuration of one source.
type Spec struct {
	Source Source
	// Title is the human-readable name used in report headings.
	Title string
	// BaseURL is the raw-content root the remote paths are joined to.
	BaseURL string
	Files   map[string]RemoteFile
	// NationalKey/AreaKey name the file keys used for nationwide and
	// per-area tables (they may point at the same file).
	NationalKey string
	AreaKey     string
	// UpdateKey, when set, names a JSON file whose "ultimo_aggiornamento"
	// timestamp gates refreshes (download only when remote is newer).
	UpdateKey string
	// AreaColumn is the column holding area names in per-area files.
	AreaColumn string
	// DateColumn duplicates the KindDate entry of Variables for cheap access.
	DateColumn string
	Variables  []Variable
}

// Specs returns the closed set of configured sources.
func Specs() map[Source]Spec {
	return map[Source]Spec{
		SourceContagions: {
			Source:  SourceContagions,
			Title:   "Contagions",
			BaseURL: "https://raw.githubusercontent.com/pcm-dpc/COVID-19/master",
			Files: map[string]RemoteFile{
				FileNational: {
					Remote: "dati-andamento-nazionale/dpc-covid19-ita-andamento-nazionale.csv",
					Local:  "dpc-covid19-ita-andamento-nazionale.csv",
				},
				FileRegional: {
					Remote: "dati-regioni/dpc-covid19-ita-regioni.csv",
					Local:  "dpc-covid19-ita-regioni.csv",
				},
			},
			NationalKey: FileNational,
			AreaKey:     FileRegional,
			AreaColumn:  "denominazione_regione",
			DateColumn:  "data",
			Variables: []Variable{
				{Name: "data", Kind: KindDate},
				{Name: "nuovi_positivi", Kind: KindActual},
				{Name: "totale_positivi", Kind: KindActual},
				{Name: "ricoverati_con_sintomi", Kind: KindActual},
				{Name: "terapia_intensiva", Kind: KindActual},
				{Name: "isolamento_domiciliare", Kind: KindActual},
				{Name: "dimessi_guariti", Kind: KindCumulative},
				{Name: "deceduti", Kind: KindCumulative},
				{Name: "tamponi", Kind: KindCumulative},
				{Name: "tamponi_test_molecolare", Kind: KindCumulative},
				{Name: "tamponi_test_antigenico_rapido", Kind: KindCumulative},
			},
		},
		SourceVaccines: {
			Source:  SourceVaccines,
			Title:   "Vaccinations",
			BaseURL: "https://raw.githubusercontent.com/italia/covid19-opendata-vaccini/master",
			Files: map[string]RemoteFile{
				FileDoses: {
					Remote: "dati/somministrazioni-vaccini-latest.csv",
					Local:  "somministrazioni-vaccini-latest.csv",
				},
				FileUpdate: {
					Remote: "dati/last-update-dataset.json",
					Local:  "last-update-dataset.json",
				},
			},
			NationalKey: FileDoses,
			AreaKey:     FileDoses,
			UpdateKey:   FileUpdate,
			AreaColumn:  "nome_area",
			DateColumn:  "data_somministrazione",
			Variables: []Variable{
				{Name: "data_somministrazione", Kind: KindDate},
				{Name: "prima_dose", Kind: KindActual},
				{Name: "seconda_dose", Kind: KindActual},
				{Name: "pregressa_infezione", Kind: KindActual},
				{Name: "dose_addizionale_booster", Kind: KindActual},
			},
		},
	}
}
