// Command seed scaffolds a starter workflow directory so a fresh install
// has something to generate with. It is idempotent: existing workflow
// directories are never overwritten.
package main

import (
	"log"
	"os"
	"path/filepath"

	"comfy-cockpit/backend/internal/config"
	"comfy-cockpit/backend/internal/logging"
	"comfy-cockpit/backend/internal/workflow"
)

const starterID = "txt2img_base"

const starterManifest = `{
  "id": "txt2img_base",
  "name": "Text to Image",
  "description": "Single-pass text to image with a KSampler.",
  "version": "1",
  "template_file": "template_api.json",
  "params": {
    "prompt": {
      "type": "string",
      "required": true,
      "label": "Prompt",
      "patch": {"node_id": "6", "field": "inputs.text"}
    },
    "negative_prompt": {
      "type": "string",
      "default": "",
      "label": "Negative prompt",
      "patch": {"node_id": "7", "field": "inputs.text"}
    },
    "ckpt_name": {
      "type": "string",
      "default": "sd_xl_base_1.0.safetensors",
      "label": "Checkpoint",
      "patch": {"node_id": "4", "field": "inputs.ckpt_name"}
    },
    "seed": {
      "type": "integer",
      "default": -1,
      "min": -1,
      "label": "Seed (-1 for random)",
      "patch": {"node_id": "3", "field": "inputs.seed"}
    },
    "steps": {
      "type": "integer",
      "default": 20,
      "min": 1,
      "max": 150,
      "patch": {"node_id": "3", "field": "inputs.steps"}
    },
    "cfg": {
      "type": "number",
      "default": 7.0,
      "min": 1,
      "max": 30,
      "patch": {"node_id": "3", "field": "inputs.cfg"}
    },
    "sampler_name": {
      "type": "string",
      "default": "euler",
      "patch": {"node_id": "3", "field": "inputs.sampler_name"}
    },
    "scheduler": {
      "type": "string",
      "default": "normal",
      "patch": {"node_id": "3", "field": "inputs.scheduler"}
    },
    "width": {
      "type": "integer",
      "default": 1024,
      "choices": [512, 768, 1024, 1280],
      "patch": {"node_id": "5", "field": "inputs.width"}
    },
    "height": {
      "type": "integer",
      "default": 1024,
      "choices": [512, 768, 1024, 1280],
      "patch": {"node_id": "5", "field": "inputs.height"}
    }
  },
  "presets": {
    "draft": {"steps": 12, "cfg": 5.5},
    "quality": {"steps": 40, "cfg": 7.5, "scheduler": "karras"}
  },
  "quality_checks": {
    "black_threshold": 0.01,
    "white_threshold": 0.99
  }
}
`

const starterTemplate = `{
  "3": {
    "class_type": "KSampler",
    "inputs": {
      "seed": 0,
      "steps": 20,
      "cfg": 7.0,
      "sampler_name": "euler",
      "scheduler": "normal",
      "denoise": 1.0,
      "model": ["4", 0],
      "positive": ["6", 0],
      "negative": ["7", 0],
      "latent_image": ["5", 0]
    }
  },
  "4": {
    "class_type": "CheckpointLoaderSimple",
    "inputs": {"ckpt_name": "sd_xl_base_1.0.safetensors"}
  },
  "5": {
    "class_type": "EmptyLatentImage",
    "inputs": {"width": 1024, "height": 1024, "batch_size": 1}
  },
  "6": {
    "class_type": "CLIPTextEncode",
    "inputs": {"text": "", "clip": ["4", 1]}
  },
  "7": {
    "class_type": "CLIPTextEncode",
    "inputs": {"text": "", "clip": ["4", 1]}
  },
  "8": {
    "class_type": "VAEDecode",
    "inputs": {"samples": ["3", 0], "vae": ["4", 2]}
  },
  "9": {
    "class_type": "SaveImage",
    "inputs": {"filename_prefix": "cockpit", "images": ["8", 0]}
  }
}
`

func main() {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dir := filepath.Join(cfg.Paths.WorkflowsDir, starterID)
	if _, err := os.Stat(filepath.Join(dir, workflow.ManifestFilename)); err == nil {
		logger.Info("Workflow %q already exists at %s, nothing to do", starterID, dir)
		return
	}

	// the scaffold must pass the loader's own validation
	if _, err := workflow.ParseManifest([]byte(starterManifest)); err != nil {
		log.Fatalf("Starter manifest invalid: %v", err)
	}
	if _, err := workflow.ParseTemplate([]byte(starterTemplate)); err != nil {
		log.Fatalf("Starter template invalid: %v", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("Failed to create workflow directory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, workflow.ManifestFilename), []byte(starterManifest), 0o644); err != nil {
		log.Fatalf("Failed to write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "template_api.json"), []byte(starterTemplate), 0o644); err != nil {
		log.Fatalf("Failed to write template: %v", err)
	}

	logger.Info("Seeded workflow %q at %s", starterID, dir)
}
