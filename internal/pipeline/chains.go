package pipeline

// The chains below are the per-verb stage compositions spec.md §4.6
// describes narratively; handlers just call Run with the chain that
// matches the URL/method they dispatch on. Each chain ends on the
// stage that settles req.Object/req.Bucket; the HTTP handler itself
// plays the role of the final successHandler, since it alone knows
// which response headers and body shape its verb needs.

// CreateBucketStages handles PUT .../buckets/:bucket_name.
var CreateBucketStages = []Stage{
	loadRequest,
	authorize,
	createBucket,
}

// HeadBucketStages handles HEAD .../buckets/:bucket_name.
var HeadBucketStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
}

// DeleteBucketStages handles DELETE .../buckets/:bucket_name.
var DeleteBucketStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	deleteBucket,
}

// CreateObjectStages handles PUT .../objects/:object_name.
var CreateObjectStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	maybeGetObject,
	parseArguments,
	findSharks,
	startSharkStreams,
	verifyClientDigest,
	createObject,
}

// GetObjectStages handles GET .../objects/:object_name.
var GetObjectStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	getObject,
	conditionalHandler,
}

// HeadObjectStages handles HEAD .../objects/:object_name.
var HeadObjectStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	headObject,
	conditionalHandler,
}

// DeleteObjectStages handles DELETE .../objects/:object_name.
var DeleteObjectStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	deleteObject,
}

// UpdateObjectMetadataStages handles PUT .../objects/:object_name/metadata.
var UpdateObjectMetadataStages = []Stage{
	loadRequest,
	authorize,
	getBucketIfExists,
	updateObject,
}
