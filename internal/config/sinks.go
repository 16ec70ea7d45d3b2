package config

import (
	"os"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// S3 configures the S3 sink. Empty keys fall back to the default AWS
// credential chain.
type S3 struct {
	Bucket    string
	Region    string
	AccessKey string
	Secret    string
	Endpoint  string // S3 compatible endpoint override
}

// LoadS3 reads the AWS_* group.
func LoadS3() (S3, error) {
	if err := Validate("s3"); err != nil {
		return S3{}, err
	}
	return S3{
		Bucket:    os.Getenv("AWS_S3_BUCKET"),
		Region:    os.Getenv("AWS_REGION"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		Secret:    os.Getenv("AWS_ACCESS_SECRET"),
		Endpoint:  os.Getenv("AWS_S3_ENDPOINT"),
	}, nil
}

// GCS configures the Google Cloud Storage sink.
type GCS struct {
	Bucket          string
	CredentialsFile string // service account key, empty for application default credentials
}

// LoadGCS reads the GCS_* group.
func LoadGCS() (GCS, error) {
	if err := Validate("gcs"); err != nil {
		return GCS{}, err
	}
	return GCS{
		Bucket:          os.Getenv("GCS_BUCKET"),
		CredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
	}, nil
}

// Azure configures the Azure Blob Storage sink.
type Azure struct {
	ConnectionString string
	Container        string
}

// LoadAzure reads the AZURE_* group.
func LoadAzure() (Azure, error) {
	if err := Validate("azure"); err != nil {
		return Azure{}, err
	}
	return Azure{
		ConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		Container:        os.Getenv("AZURE_CONTAINER"),
	}, nil
}

// HuggingFace configures the Hugging Face dataset repository sink.
type HuggingFace struct {
	Token    string
	RepoID   string
	Endpoint string
	Revision string
}

// LoadHuggingFace reads the HUGGINGFACE_* group.
func LoadHuggingFace() (HuggingFace, error) {
	if err := Validate("huggingface"); err != nil {
		return HuggingFace{}, err
	}
	return HuggingFace{
		Token:    os.Getenv("HUGGINGFACE_TOKEN"),
		RepoID:   os.Getenv("HUGGINGFACE_REPO_ID"),
		Endpoint: sharedcfg.EnvOrDefault("HUGGINGFACE_ENDPOINT", "https://huggingface.co"),
		Revision: sharedcfg.EnvOrDefault("HUGGINGFACE_REVISION", "main"),
	}, nil
}
