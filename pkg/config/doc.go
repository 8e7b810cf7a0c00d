// Package config loads and validates nebula-sync job configuration.
//
// A job file names one source connector, one destination and the tuning
// sections that drive the engine:
//
//	name: linkedin-to-warehouse
//	source:
//	  type: linkedin_ads
//	  credentials:
//	    access_token: ${LINKEDIN_ACCESS_TOKEN}
//	  options:
//	    account_ids: [5081234]
//	destination:
//	  type: bigquery
//	  options:
//	    projectId: analytics-prod
//	    datasetId: marketing
//	    location: EU
//	  credentials:
//	    serviceCredential: ${GCP_SERVICE_ACCOUNT_JSON}
//	  policy: append
//	sync:
//	  performance:
//	    batch_size: 500
//
// # Environment Variable Substitution
//
// Load replaces ${VAR_NAME} with the value of the environment variable before
// parsing, so credentials never have to be committed to the file.
//
// # Defaults
//
// NewJobConfig and NewSyncConfig fill every section with production defaults;
// values present in the file override them.
package config
